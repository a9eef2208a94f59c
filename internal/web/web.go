package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"famcal/internal/apperr"
	"famcal/internal/config"
	"famcal/internal/gateway"
	"famcal/internal/grid"
	"famcal/internal/ics"
	"famcal/internal/intake"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/notify"
	"famcal/internal/panel"
	"famcal/internal/session"
	"famcal/internal/store"
)

// Backend is everything the web surface sends to the scheduling service.
type Backend interface {
	intake.Gateway
	panel.Gateway
}

// Options wires a Server to the rest of the client.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	Session *session.Session
	Backend Backend
	// PreviewPath is the PNG written by `famcal snapshot`.
	PreviewPath string
	// Now overrides the clock for IsToday and the default month.
	Now func() time.Time
}

// Server exposes the event store, the intake workflow and per-event
// actions as a JSON API, plus an HTML month page for headless capture.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	sess    *session.Session
	backend Backend
	preview string
	now     func() time.Time
	loc     *time.Location
	mux     *http.ServeMux

	// intakeMu serializes intake calls so each response carries exactly
	// the notices its own submission produced.
	intakeMu sync.Mutex
	intake   *intake.Controller
	intakeRx *notify.Recorder
}

//go:embed templates/*.html
var embeddedTemplates embed.FS

var calendarTmpl = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
	"clock":    func(ts model.Timestamp, loc *time.Location) string { return model.FormatTime(ts.Time, loc) },
	"category": func(c model.Category) string { return strings.ToLower(string(c.Normalize())) },
}).ParseFS(embeddedTemplates, "templates/calendar.html"))

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	st := opts.Store
	if st == nil {
		st = store.New()
	}
	sess := opts.Session
	if sess == nil {
		sess = session.New(nil)
	}
	loc := cfg.Location()

	rec := &notify.Recorder{}
	s := &Server{
		cfg:      cfg,
		store:    st,
		sess:     sess,
		backend:  opts.Backend,
		preview:  opts.PreviewPath,
		now:      now,
		loc:      loc,
		mux:      http.NewServeMux(),
		intakeRx: rec,
	}
	s.intake = intake.New(opts.Backend, st, notify.Tee(rec, notify.Log), intake.Options{Location: loc})
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="famcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/month", s.handleMonth)

	s.mux.HandleFunc("GET /api/intake", s.handleIntakeState)
	s.mux.HandleFunc("POST /api/intake", s.handleIntakeSubmit)
	s.mux.HandleFunc("POST /api/intake/suggestions/{index}", s.handleIntakeAccept)

	s.mux.HandleFunc("POST /api/events/{id}/confirm", s.handleConfirm)
	s.mux.HandleFunc("POST /api/events/{id}/reminders", s.handleReminder)
	s.mux.HandleFunc("POST /api/events/{id}/share", s.handleShare)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)

	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /export.ics", s.handleExport)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// actionResponse is the JSON shape returned by every mutating endpoint.
type actionResponse struct {
	Event   *model.Event    `json:"event,omitempty"`
	Intake  *intake.State   `json:"intake,omitempty"`
	Notices []notify.Notice `json:"notices"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.authed(w, r)
	if !ok {
		return
	}
	if err := s.store.Refresh(ctx, s.backend); err != nil {
		appLog.Error("api refresh failed", err)
		writeFailure(w, err, []notify.Notice{{Level: notify.LevelError, Title: "Error fetching events", Description: apperr.Message(err)}})
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// monthResponse is the JSON response shape for /api/month.
type monthResponse struct {
	Title           string        `json:"title"`
	Labels          []string      `json:"labels"`
	DisplayTimeZone string        `json:"display_timezone"`
	WeekStart       string        `json:"week_start"`
	Start           time.Time     `json:"range_start"`
	End             time.Time     `json:"range_end"`
	Weeks           [][]grid.Cell `json:"weeks"`
}

// handleMonth projects the store onto a month grid.
//
// GET /api/month?month=2024-05
//   - month: 표시할 달 (기본: 현재 달)
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	m, ok := s.project(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "month must look like 2006-01")
		return
	}
	writeJSON(w, http.StatusOK, monthResponse{
		Title:           m.Title(),
		Labels:          grid.WeekdayLabels(m.WeekStart),
		DisplayTimeZone: s.loc.String(),
		WeekStart:       s.cfg.WeekStart,
		Start:           m.Start,
		End:             m.End,
		Weeks:           m.Weeks,
	})
}

func (s *Server) project(r *http.Request) (grid.Month, bool) {
	now := s.now()
	ref := now
	if v := r.URL.Query().Get("month"); v != "" {
		parsed, ok := grid.ParseMonth(v, s.loc)
		if !ok {
			return grid.Month{}, false
		}
		ref = parsed
	}
	return grid.Project(ref, s.store.Snapshot(), grid.Options{
		WeekStart: s.cfg.WeekStartDay(),
		Location:  s.loc,
		Now:       now,
	}), true
}

func (s *Server) handleIntakeState(w http.ResponseWriter, _ *http.Request) {
	st := s.intake.State()
	writeJSON(w, http.StatusOK, st)
}

type intakeRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleIntakeSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.authed(w, r)
	if !ok {
		return
	}
	var req intakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.runIntake(w, func() error { return s.intake.SubmitDraft(ctx, req.Text) })
}

func (s *Server) handleIntakeAccept(w http.ResponseWriter, r *http.Request) {
	ctx, ok := s.authed(w, r)
	if !ok {
		return
	}
	// 경로의 index 는 1부터 시작한다 (화면에 보이는 번호와 동일).
	n, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "suggestion index must be a number")
		return
	}
	s.runIntake(w, func() error { return s.intake.AcceptSuggestion(ctx, n-1) })
}

func (s *Server) runIntake(w http.ResponseWriter, fn func() error) {
	s.intakeMu.Lock()
	s.intakeRx.Reset()
	err := fn()
	notices := s.intakeRx.Notices()
	st := s.intake.State()
	s.intakeMu.Unlock()

	if err != nil {
		writeFailure(w, err, notices)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Intake: &st, Notices: nonNil(notices)})
}

type reminderRequest struct {
	MinutesBefore *int `json:"minutes_before"`
}

type shareRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.withPanel(w, r, func(ctx context.Context, p *panel.Panel) error {
		return p.Confirm(ctx)
	})
}

func (s *Server) handleReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	minutes := panel.DefaultReminderMinutes
	if req.MinutesBefore != nil {
		minutes = *req.MinutesBefore
	}
	s.withPanel(w, r, func(ctx context.Context, p *panel.Panel) error {
		return p.AddReminder(ctx, minutes)
	})
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.withPanel(w, r, func(ctx context.Context, p *panel.Panel) error {
		return p.Share(ctx, req.Recipient)
	})
}

// handleDelete treats the DELETE request itself as the confirmation step.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.withPanel(w, r, func(ctx context.Context, p *panel.Panel) error {
		p.RequestDelete()
		return p.ConfirmDelete(ctx)
	})
}

func (s *Server) withPanel(w http.ResponseWriter, r *http.Request, fn func(context.Context, *panel.Panel) error) {
	ctx, ok := s.authed(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	ev, found := s.store.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	rec := &notify.Recorder{}
	p := panel.Open(s.backend, s.store, notify.Tee(rec, notify.Log), ev)
	if err := fn(ctx, p); err != nil {
		writeFailure(w, err, rec.Notices())
		return
	}

	resp := actionResponse{Notices: nonNil(rec.Notices())}
	if cur, ok := s.store.Get(id); ok {
		resp.Event = &cur
	}
	writeJSON(w, http.StatusOK, resp)
}

// authed attaches the session credential to the request context, or
// answers 401 when nobody is logged in.
func (s *Server) authed(w http.ResponseWriter, r *http.Request) (context.Context, bool) {
	if !s.sess.LoggedIn() {
		writeError(w, http.StatusUnauthorized, "not logged in; run `famcal login` first")
		return nil, false
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "backend not configured")
		return nil, false
	}
	return s.sess.Context(r.Context()), true
}

type calendarPage struct {
	Month  grid.Month
	Labels []string
	Loc    *time.Location
}

// handleCalendar renders the month as static HTML. The root element carries
// data-ready="true" so the headless capture knows the page is complete.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	m, ok := s.project(r)
	if !ok {
		http.Error(w, "month must look like 2006-01", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := calendarTmpl.Execute(w, calendarPage{Month: m, Labels: grid.WeekdayLabels(m.WeekStart), Loc: s.loc}); err != nil {
		appLog.Error("calendar template failed", err)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := ics.Export(s.store.Snapshot(), ics.ExportOptions{Name: "famcal", Now: s.now()})
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="famcal.ics"`)
	_, _ = w.Write(data)
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.preview == "" {
		http.NotFound(w, r)
		return
	}
	// http.ServeFile 가 파일 존재/권한 문제에 대해 적절한 상태코드를 반환해 준다.
	http.ServeFile(w, r, s.preview)
}

// failureStatus maps an action error onto an HTTP status.
func failureStatus(err error) int {
	var be *gateway.BackendError
	switch {
	case errors.Is(err, apperr.ErrBusy):
		return http.StatusConflict
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &be) && be.Unauthorized():
		return http.StatusUnauthorized
	case errors.As(err, &be) && be.NotFound():
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

type failureResponse struct {
	Error   string          `json:"error"`
	Notices []notify.Notice `json:"notices"`
}

func writeFailure(w http.ResponseWriter, err error, notices []notify.Notice) {
	writeJSON(w, failureStatus(err), failureResponse{Error: apperr.Message(err), Notices: nonNil(notices)})
}

func nonNil(n []notify.Notice) []notify.Notice {
	if n == nil {
		return []notify.Notice{}
	}
	return n
}

// decodeJSON reads a small JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
