package speech

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

// ErrUnsupportedFormat is returned for audio that is neither Ogg nor RIFF/WAVE.
var ErrUnsupportedFormat = errors.New("unsupported audio container")

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Format identifies an audio container by its magic bytes.
func Format(audio []byte) (string, error) {
	switch {
	case len(audio) >= 4 && bytes.Equal(audio[:4], []byte("OggS")):
		return "ogg", nil
	case len(audio) >= 12 && bytes.Equal(audio[:4], []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")):
		return "wav", nil
	}
	return "", fault.Fatal("speech format", ErrUnsupportedFormat)
}

// Gate serialises access to a Transcriber: the engine holds one model in memory and
// processes one recording at a time, so callers wait their turn.
type Gate struct {
	sem    *semaphore.Weighted
	next   Transcriber
	logger *slog.Logger
}

func NewGate(next Transcriber, logger *slog.Logger) *Gate {
	return &Gate{sem: semaphore.NewWeighted(1), next: next, logger: logger}
}

func (g *Gate) Transcribe(ctx context.Context, audio []byte) (string, error) {
	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	start := time.Now()
	text, err := g.next.Transcribe(ctx, audio)
	if err != nil {
		return "", err
	}
	g.logger.Info("audio transcribed",
		"bytes", len(audio),
		"waited_ms", start.Sub(waitStart).Milliseconds(),
		"took_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}
