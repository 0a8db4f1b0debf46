package store

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNotFound is returned by a Backend when no history exists for a contextId.
var ErrNotFound = errors.New("context not found")

// Backend persists message histories keyed by contextId.
type Backend interface {
	Read(ctx context.Context, contextID string) ([]Message, error)
	Write(ctx context.Context, contextID string, messages []Message) error
}

// Conversations is the conversation store the answer engine works against.
// Access to one contextId is serialised by the single consumer of each platform queue.
type Conversations struct {
	backend Backend
	logger  *slog.Logger
}

func NewConversations(backend Backend, logger *slog.Logger) *Conversations {
	return &Conversations{backend: backend, logger: logger}
}

// Load returns the stored context, or a fresh one seeded with systemPrompt if none exists or it cannot be read.
// Message 0 is refreshed in place when the prompt has changed.
func (s *Conversations) Load(ctx context.Context, contextID, systemPrompt string) *Context {
	msgs, err := s.backend.Read(ctx, contextID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to load context, starting fresh", "context_id", contextID, "error", err)
		}
		return NewContext(contextID, systemPrompt)
	}

	c := &Context{ID: contextID, Messages: msgs}
	if c.RefreshSystemPrompt(systemPrompt) {
		s.logger.Debug("system prompt refreshed", "context_id", contextID)
	}
	s.logger.Debug("context loaded", "context_id", contextID, "messages", c.Len())
	return c
}

// Save overwrites the stored history. Failures are logged and returned; callers do not fail the turn on them.
func (s *Conversations) Save(ctx context.Context, c *Context) error {
	if err := s.backend.Write(ctx, c.ID, c.Messages); err != nil {
		s.logger.Error("failed to save context", "context_id", c.ID, "error", err)
		return err
	}
	s.logger.Debug("context saved", "context_id", c.ID, "messages", c.Len())
	return nil
}
