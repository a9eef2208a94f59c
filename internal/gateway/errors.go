package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError wraps a failure to reach the backend or to read/decode its
// response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) UserMessage() string {
	return "Could not reach the scheduling service: " + e.Err.Error()
}

// BackendError is a non-success HTTP response. Message is the body's detail
// when present, otherwise the operation's fallback text.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Message)
}

func (e *BackendError) UserMessage() string { return e.Message }

// Unauthorized reports whether the backend rejected the credential.
func (e *BackendError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// NotFound reports a 404.
func (e *BackendError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 BackendError.
func IsUnauthorized(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Unauthorized()
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// errorBody covers both {"detail": "text"} and the validation form
// {"detail": [{"loc": [...], "msg": "..."}]}.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

type validationDetail struct {
	Msg string `json:"msg"`
}

// detailMessage extracts a human-readable message from an error body, or "".
func detailMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var items []validationDetail
		if err := json.Unmarshal(eb.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if m := strings.TrimSpace(it.Msg); m != "" {
					msgs = append(msgs, m)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return strings.TrimSpace(eb.Error)
}
