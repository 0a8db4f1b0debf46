package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/herald/internal/ollama"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// reply is one scripted generator turn.
type reply struct {
	chunks []string
	err    error
}

// scriptedGenerator replays replies in order and records every request.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []reply
	requests [][]ollama.Message
	temps    []float64
}

func newScripted(replies ...reply) *scriptedGenerator {
	return &scriptedGenerator{replies: replies}
}

func text(s ...string) reply { return reply{chunks: s} }

func fail(err error) reply { return reply{err: err} }

func (g *scriptedGenerator) Stream(ctx context.Context, messages []ollama.Message, temperature float64, onDelta func(string)) error {
	g.mu.Lock()
	cp := make([]ollama.Message, len(messages))
	copy(cp, messages)
	g.requests = append(g.requests, cp)
	g.temps = append(g.temps, temperature)
	if len(g.replies) == 0 {
		g.mu.Unlock()
		return errors.New("script exhausted")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	for _, c := range r.chunks {
		onDelta(c)
	}
	return nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
