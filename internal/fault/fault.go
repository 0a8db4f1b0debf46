package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind tags an adapter failure as worth retrying or not.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error is a classified failure from an external system (chat platform, image backend, speech engine).
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Fatal wraps err as a failure that must not be retried.
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// RateLimited is a transient failure carrying the server's requested wait.
func RateLimited(op string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter, Err: err}
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(op string, status int, body string) *Error {
	kind := KindFatal
	if TransientStatus(status) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Err: fmt.Errorf("http %d: %s", status, truncate(body, 512))}
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// KindOf returns the kind of err. Untagged errors are fatal, except timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return KindFatal
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindFatal
}

// IsTransient is shorthand for KindOf(err) == KindTransient.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// RetryAfterOf returns the server-requested wait carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
