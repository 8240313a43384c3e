// internal/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Typed errors for the automation core. Callers classify failures with
// errors.Is against the Kind sentinels and recover details with errors.As.

// Kind classifies a failure.
type Kind string

const (
	KindRateLimited             Kind = "rate_limited"
	KindSessionNotAuthenticated Kind = "session_not_authenticated"
	KindSelectorExhausted       Kind = "selector_exhausted"
	KindNavigationTimeout       Kind = "navigation_timeout"
	KindLoginTimeout            Kind = "login_timeout"
	KindBrowserFatal            Kind = "browser_fatal"
	KindValidation              Kind = "validation"
	KindNotFound                Kind = "not_found"
	KindUnauthorized            Kind = "unauthorized"
	KindInternal                Kind = "internal"
)

// Sentinels usable as errors.Is targets.
var (
	ErrRateLimited             = &Error{Kind: KindRateLimited}
	ErrSessionNotAuthenticated = &Error{Kind: KindSessionNotAuthenticated}
	ErrSelectorExhausted       = &Error{Kind: KindSelectorExhausted}
	ErrNavigationTimeout       = &Error{Kind: KindNavigationTimeout}
	ErrLoginTimeout            = &Error{Kind: KindLoginTimeout}
	ErrBrowserFatal            = &Error{Kind: KindBrowserFatal}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrUnauthorized            = &Error{Kind: KindUnauthorized}
)

// Error is the single concrete error type of the taxonomy.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "extraction.messages".
	Op string
	// Reason is the machine readable, user presentable explanation.
	Reason string
	// WaitTime is set for RateLimited errors.
	WaitTime time.Duration
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg = e.Reason
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work as targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// New creates an error of the given kind.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap creates an error of the given kind around an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited creates a governor denial.
func RateLimited(reason string, wait time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Op: "governor", Reason: reason, WaitTime: wait}
}

// SelectorExhausted reports that no strategy in a cascade matched.
func SelectorExhausted(op, field string) *Error {
	return &Error{Kind: KindSelectorExhausted, Op: op, Reason: fmt.Sprintf("no strategy matched %s", field)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the reason of the first *Error in err's chain, or err's message.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps a failure to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindSessionNotAuthenticated, KindUnauthorized:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSelectorExhausted:
		return http.StatusBadGateway
	case KindNavigationTimeout, KindLoginTimeout:
		return http.StatusGatewayTimeout
	case KindBrowserFatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
