// Package refresh keeps the event store in sync with the backend on a cron
// schedule, in addition to the refreshes triggered by user actions.
package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "famcal/internal/log"
	"famcal/internal/session"
	"famcal/internal/store"
)

// TokenSource returns the credential to refresh with; "" skips the run.
type TokenSource func() string

// Scheduler runs store refreshes on a cron spec.
type Scheduler struct {
	cron    *cron.Cron
	store   *store.Store
	fetcher store.Fetcher
	token   TokenSource
	baseCtx context.Context

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// New parses spec (standard 5-field cron, evaluated in loc) and registers
// the refresh job. Nothing runs until Start.
func New(ctx context.Context, spec string, loc *time.Location, st *store.Store, f store.Fetcher, token TokenSource) (*Scheduler, error) {
	if st == nil || f == nil {
		return nil, errors.New("refresh: store and fetcher are required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		store:   st,
		fetcher: f,
		token:   token,
		baseCtx: ctx,
	}
	if _, err := s.cron.AddFunc(strings.TrimSpace(spec), func() { _ = s.RunOnce(s.baseCtx) }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	appLog.Info("refresh scheduler started")
	s.cron.Start()
}

// Stop waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("refresh scheduler stopped")
}

// RunOnce refreshes the store now. It is a no-op while logged out. On
// failure the store is left as it was.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	tok := ""
	if s.token != nil {
		tok = s.token()
	}
	if tok == "" {
		appLog.Debug("refresh skipped: not logged in")
		return nil
	}

	started := time.Now()
	err := s.store.Refresh(session.WithCredential(ctx, tok), s.fetcher)

	s.mu.Lock()
	s.lastRun = started
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		appLog.Error("scheduled refresh failed", err)
		return err
	}
	appLog.Info("scheduled refresh done", "events", s.store.Len(), "elapsed", time.Since(started).String())
	return nil
}

// Last returns when the last refresh ran and how it ended.
func (s *Scheduler) Last() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
