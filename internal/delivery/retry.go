package delivery

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

// DefaultSchedule is the wait after each failed attempt. Its length is the attempt limit.
var DefaultSchedule = []time.Duration{300 * time.Millisecond, 2 * time.Second, 5 * time.Second}

const defaultMaxJitter = 250 * time.Millisecond

type RetryOption func(*Retrier)

func WithSchedule(schedule []time.Duration) RetryOption {
	return func(r *Retrier) { r.schedule = schedule }
}

// WithSleep replaces the cancellable wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrier) { r.sleep = sleep }
}

func WithJitter(jitter func() time.Duration) RetryOption {
	return func(r *Retrier) { r.jitter = jitter }
}

// Retrier runs an outbound operation with a fixed backoff schedule plus jitter.
// Only errors tagged transient by package fault are retried.
type Retrier struct {
	schedule []time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func() time.Duration
	logger   *slog.Logger
}

func NewRetrier(logger *slog.Logger, opts ...RetryOption) *Retrier {
	r := &Retrier{
		schedule: DefaultSchedule,
		sleep:    sleepCtx,
		jitter:   func() time.Duration { return rand.N(defaultMaxJitter) },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.schedule) == 0 {
		r.schedule = []time.Duration{0}
	}
	return r
}

// MaxAttempts is the number of times Do calls fn before giving up.
func (r *Retrier) MaxAttempts() int { return len(r.schedule) }

// Do calls fn until it succeeds, fails fatally, the schedule runs out or ctx is cancelled.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := r.do(ctx, op, fn)
	return err
}

func (r *Retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt < len(r.schedule); attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt + 1, ctxErr
		}
		if !fault.IsTransient(err) {
			return attempt + 1, err
		}
		if attempt == len(r.schedule)-1 {
			break
		}

		delay := r.schedule[attempt] + r.jitter()
		if ra := fault.RetryAfterOf(err); ra > delay {
			delay = ra
		}
		r.logger.Warn("send failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return attempt + 1, err
		}
	}
	return len(r.schedule), err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
