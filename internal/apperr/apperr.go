// Package apperr holds the client-side error taxonomy shared by the intake
// controller and the lifecycle panel. Transport and backend failures are
// defined next to the code that produces them, in internal/gateway.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when an action is started while the same action is
// still in flight.
var ErrBusy = errors.New("request already in progress")

// ValidationError is a client-side rejection raised before any request is
// sent.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Messager is implemented by errors that carry a user-facing message
// distinct from their Error() text.
type Messager interface {
	UserMessage() string
}

// Message extracts the text shown to the user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var m Messager
	if errors.As(err, &m) {
		if s := strings.TrimSpace(m.UserMessage()); s != "" {
			return s
		}
	}
	return err.Error()
}
