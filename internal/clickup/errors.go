package clickup

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Only ErrRateLimited and ErrAPI are worth retrying.
var (
	ErrValidation    = errors.New("clickup: validation error")
	ErrRateLimited   = errors.New("clickup: rate limited")
	ErrAPI           = errors.New("clickup: api error")
	ErrConfiguration = errors.New("clickup: not configured")
	ErrAuth          = errors.New("clickup: authentication failed")
)

// Error is a failed ClickUp call. Kind is one of the sentinel errors above.
type Error struct {
	Kind    error
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v: %s: status %d: %s", e.Kind, e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// kindForStatus classifies an HTTP status.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status >= 500:
		return ErrAPI
	default:
		return ErrValidation
	}
}
