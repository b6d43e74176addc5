package blip

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure.
type Kind int

const (
	// KindPermanent means the gateway rejected the request; retrying the same
	// payload will not help.
	KindPermanent Kind = iota
	// KindTransient covers timeouts, network errors, throttling and 5xx.
	KindTransient
	// KindAuth means the bearer token was rejected or could not be obtained.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	default:
		return "permanent"
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Op     string // login | deliver
	Kind   Kind
	Status int // HTTP status, 0 for transport failures
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("blip %s: %s (http %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("blip %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the event may be redelivered.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

// IsTransient reports whether err is a transient failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// classifyStatus maps a non-2xx status to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
