package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusRequestTimeout, KindTransient},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusGatewayTimeout, KindTransient},
		{http.StatusBadRequest, KindFatal},
		{http.StatusUnauthorized, KindFatal},
		{http.StatusForbidden, KindFatal},
		{http.StatusNotFound, KindFatal},
		{http.StatusNotImplemented, KindFatal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus("send", tt.status, "body")
			if err.Kind != tt.want {
				t.Errorf("FromStatus(%d).Kind = %s, want %s", tt.status, err.Kind, tt.want)
			}
			if err.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, err.StatusCode)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindFatal},
		{"plain error", errors.New("boom"), KindFatal},
		{"tagged transient", Transient("op", errors.New("x")), KindTransient},
		{"tagged fatal", Fatal("op", errors.New("x")), KindFatal},
		{"wrapped transient", fmt.Errorf("outer: %w", Transient("op", errors.New("x"))), KindTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransient},
		{"canceled", context.Canceled, KindFatal},
		{"net timeout", timeoutErr{}, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRateLimited(t *testing.T) {
	err := fmt.Errorf("send: %w", RateLimited("sendMessage", 3*time.Second, errors.New("too many requests")))

	if !IsTransient(err) {
		t.Error("expected rate limit to be transient")
	}
	if got := RetryAfterOf(err); got != 3*time.Second {
		t.Errorf("expected retry after 3s, got %s", got)
	}
	if got := RetryAfterOf(errors.New("plain")); got != 0 {
		t.Errorf("expected zero retry after for plain error, got %s", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("root cause")
	err := Fatal("op", base)
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}
