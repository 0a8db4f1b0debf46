package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrConsumerRunning is returned by Run when another consumer already owns the queue.
var ErrConsumerRunning = errors.New("queue already has a consumer")

// Handler processes one item. Errors are logged and the loop moves on.
type Handler[T any] func(ctx context.Context, item T) error

type Option[T any] func(*Queue[T])

// WithOnDrop registers a hook called, outside the lock, for every item evicted by a full queue.
func WithOnDrop[T any](fn func(T)) Option[T] {
	return func(q *Queue[T]) { q.onDrop = fn }
}

// Queue is a bounded FIFO with many producers and one consumer.
// Enqueue never blocks: when the queue is full the oldest item is evicted.
type Queue[T any] struct {
	name   string
	logger *slog.Logger
	onDrop func(T)

	mu   sync.Mutex
	buf  []T
	head int
	size int

	notify    chan struct{}
	running   atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

func New[T any](name string, capacity int, logger *slog.Logger, opts ...Option[T]) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		name:   name,
		logger: logger,
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends item and reports whether an older item had to be dropped to make room.
func (q *Queue[T]) Enqueue(item T) (dropped bool) {
	var evicted T

	q.mu.Lock()
	capacity := len(q.buf)
	if q.size == capacity {
		evicted = q.buf[q.head]
		q.buf[q.head] = item
		q.head = (q.head + 1) % capacity
		dropped = true
	} else {
		q.buf[(q.head+q.size)%capacity] = item
		q.size++
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	if dropped {
		total := q.dropped.Add(1)
		q.logger.Warn("queue full, dropped oldest item", "queue", q.name, "capacity", capacity, "dropped_total", total)
		if q.onDrop != nil {
			q.onDrop(evicted)
		}
	}
	return dropped
}

func (q *Queue[T]) dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return item, true
}

// Run consumes items in FIFO order until ctx is cancelled, then returns ctx.Err().
// Only one Run may be active per queue.
func (q *Queue[T]) Run(ctx context.Context, handler Handler[T]) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrConsumerRunning
	}
	defer q.running.Store(false)

	q.logger.Info("queue consumer started", "queue", q.name)
	for {
		if err := ctx.Err(); err != nil {
			q.logger.Info("queue consumer stopped", "queue", q.name, "pending", q.Len())
			return err
		}

		item, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
			case <-q.notify:
			}
			continue
		}

		if err := q.handle(ctx, handler, item); err != nil {
			q.failed.Add(1)
			q.logger.Error("queue handler failed", "queue", q.name, "error", err)
		}
		q.processed.Add(1)
	}
}

func (q *Queue[T]) handle(ctx context.Context, handler Handler[T], item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			q.logger.Error("queue handler panicked", "queue", q.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return handler(ctx, item)
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue[T]) Cap() int { return len(q.buf) }

// Dropped is the number of items evicted since the queue was created.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

type Stats struct {
	Name      string `json:"name"`
	Len       int    `json:"len"`
	Cap       int    `json:"cap"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Running   bool   `json:"running"`
}

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:      q.name,
		Len:       q.Len(),
		Cap:       q.Cap(),
		Dropped:   q.Dropped(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Running:   q.running.Load(),
	}
}
