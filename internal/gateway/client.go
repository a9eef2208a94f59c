// Package gateway is the typed contract to the scheduling backend. Every
// authenticated operation takes the bearer token as an explicit argument.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "famcal/internal/log"
	"famcal/internal/model"
)

const maxBodyBytes = 4 << 20

// Client talks to the backend REST API rooted at BaseURL
// (e.g. "http://127.0.0.1:8000/api/v1").
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a Client with its own http.Client bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// call is one request/response cycle. body is JSON-encoded unless it is an
// url.Values, which is sent as a form. out may be nil.
type call struct {
	op       string
	fallback string
	method   string
	path     string
	token    string
	body     any
	out      any
}

func (c *Client) do(ctx context.Context, cl call) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return &TransportError{Op: cl.op, Err: errors.New("base url is empty")}
	}

	var (
		r           io.Reader
		contentType string
	)
	switch b := cl.body.(type) {
	case nil:
	case url.Values:
		r = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return &TransportError{Op: cl.op, Err: err}
		}
		r = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.BaseURL+cl.path, r)
	if err != nil {
		return &TransportError{Op: cl.op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := strings.TrimSpace(cl.token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	started := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		appLog.Error("backend request failed", err, "op", cl.op, "request_id", reqID)
		return &TransportError{Op: cl.op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: cl.op, Err: err}
	}

	appLog.Debug("backend response",
		"op", cl.op,
		"method", cl.method,
		"path", cl.path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"elapsed", time.Since(started).String(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := detailMessage(data)
		if msg == "" {
			msg = cl.fallback
		}
		return &BackendError{Op: cl.op, Status: resp.StatusCode, Message: msg}
	}

	if cl.out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, cl.out); err != nil {
		return &TransportError{Op: cl.op, Err: err}
	}
	return nil
}

func eventPath(id string, suffix string) string {
	return "/events/" + url.PathEscape(id) + suffix
}

// SignUp registers a new account.
func (c *Client) SignUp(ctx context.Context, email, password string) (model.User, error) {
	var u model.User
	err := c.do(ctx, call{
		op: "sign up", fallback: "Signup failed",
		method: http.MethodPost, path: "/users/signup",
		body: map[string]string{"email": email, "password": password},
		out:  &u,
	})
	return u, err
}

// TokenResponse is the login result.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges credentials for a bearer token. The backend expects an
// OAuth2 password form with the email in "username".
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	var tr TokenResponse
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	err := c.do(ctx, call{
		op: "login", fallback: "Login failed",
		method: http.MethodPost, path: "/users/login",
		body: form,
		out:  &tr,
	})
	if err == nil && strings.TrimSpace(tr.AccessToken) == "" {
		return tr, &TransportError{Op: "login", Err: errors.New("login succeeded but token was empty")}
	}
	return tr, err
}

// Me returns the account behind token.
func (c *Client) Me(ctx context.Context, token string) (model.User, error) {
	var u model.User
	err := c.do(ctx, call{
		op: "whoami", fallback: "Failed to load account",
		method: http.MethodGet, path: "/users/me",
		token: token, out: &u,
	})
	return u, err
}

// ParseEvent submits free text for interpretation.
func (c *Client) ParseEvent(ctx context.Context, token, text string) (model.ConflictResult, error) {
	var res model.ConflictResult
	err := c.do(ctx, call{
		op: "parse event", fallback: "Failed to parse event",
		method: http.MethodPost, path: "/events/parse",
		token: token, body: map[string]string{"text": text}, out: &res,
	})
	return res, err
}

// GetEvents lists every event of the account, in backend order.
func (c *Client) GetEvents(ctx context.Context, token string) ([]model.Event, error) {
	var evs []model.Event
	err := c.do(ctx, call{
		op: "get events", fallback: "Failed to fetch events",
		method: http.MethodGet, path: "/events",
		token: token, out: &evs,
	})
	if evs == nil && err == nil {
		evs = []model.Event{}
	}
	return evs, err
}

// GetEvent fetches one event.
func (c *Client) GetEvent(ctx context.Context, token, id string) (model.Event, error) {
	var ev model.Event
	err := c.do(ctx, call{
		op: "get event", fallback: "Event not found",
		method: http.MethodGet, path: eventPath(id, ""),
		token: token, out: &ev,
	})
	return ev, err
}

// GetTimeline fetches the audit trail of one event.
func (c *Client) GetTimeline(ctx context.Context, token, id string) ([]model.TimelineItem, error) {
	var items []model.TimelineItem
	err := c.do(ctx, call{
		op: "get timeline", fallback: "Failed to fetch timeline",
		method: http.MethodGet, path: eventPath(id, "/timeline"),
		token: token, out: &items,
	})
	return items, err
}

// AddReminder attaches a reminder and returns the updated event.
func (c *Client) AddReminder(ctx context.Context, token, id string, r model.Reminder) (model.Event, error) {
	var ev model.Event
	err := c.do(ctx, call{
		op: "add reminder", fallback: "Failed to add reminder",
		method: http.MethodPost, path: eventPath(id, "/reminders"),
		token: token, body: r, out: &ev,
	})
	return ev, err
}

// UpdateEventStatus sets the lifecycle state and returns the updated event.
func (c *Client) UpdateEventStatus(ctx context.Context, token, id string, state model.State) (model.Event, error) {
	var ev model.Event
	err := c.do(ctx, call{
		op: "update status", fallback: "Failed to update status",
		method: http.MethodPut, path: eventPath(id, "/status"),
		token: token, body: map[string]model.State{"state": state}, out: &ev,
	})
	return ev, err
}

// ShareEvent shares an event with recipients. The effect is server-side.
func (c *Client) ShareEvent(ctx context.Context, token, id string, recipients []string) (model.SharePayload, error) {
	var p model.SharePayload
	err := c.do(ctx, call{
		op: "share event", fallback: "Failed to share event",
		method: http.MethodPost, path: eventPath(id, "/share"),
		token: token, body: map[string][]string{"share_with": recipients}, out: &p,
	})
	return p, err
}

// DeleteEvent removes an event. 204 and any other 2xx are success.
func (c *Client) DeleteEvent(ctx context.Context, token, id string) error {
	return c.do(ctx, call{
		op: "delete event", fallback: "Failed to delete event",
		method: http.MethodDelete, path: eventPath(id, ""),
		token: token,
	})
}
