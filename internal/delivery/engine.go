package delivery

import (
	"context"
	"log/slog"
)

// Sender is the outbound half of a chat platform adapter.
type Sender interface {
	SendText(ctx context.Context, conversationID, text, replyTo string) error
	SendPhoto(ctx context.Context, conversationID string, image []byte, caption, replyTo string) error
	SendTyping(ctx context.Context, conversationID string) error
}

// Failure describes a send that was abandoned.
type Failure struct {
	Platform       string
	Op             string
	ConversationID string
	Attempts       int
	Err            error
}

type Option func(*Engine)

// WithOnFailure registers a hook called for every abandoned send.
func WithOnFailure(fn func(Failure)) Option {
	return func(e *Engine) { e.onFailure = fn }
}

// Engine is a Sender that retries the wrapped platform sender. It is best effort:
// a failed send is logged and reported, never turned into another user-facing message.
type Engine struct {
	platform  string
	sender    Sender
	retrier   *Retrier
	logger    *slog.Logger
	onFailure func(Failure)
}

func NewEngine(platform string, sender Sender, retrier *Retrier, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		platform: platform,
		sender:   sender,
		retrier:  retrier,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) SendText(ctx context.Context, conversationID, text, replyTo string) error {
	return e.run(ctx, "send_text", conversationID, func(ctx context.Context) error {
		return e.sender.SendText(ctx, conversationID, text, replyTo)
	})
}

func (e *Engine) SendPhoto(ctx context.Context, conversationID string, image []byte, caption, replyTo string) error {
	return e.run(ctx, "send_photo", conversationID, func(ctx context.Context) error {
		return e.sender.SendPhoto(ctx, conversationID, image, caption, replyTo)
	})
}

func (e *Engine) SendTyping(ctx context.Context, conversationID string) error {
	return e.run(ctx, "send_typing", conversationID, func(ctx context.Context) error {
		return e.sender.SendTyping(ctx, conversationID)
	})
}

func (e *Engine) run(ctx context.Context, op, conversationID string, fn func(context.Context) error) error {
	attempts, err := e.retrier.do(ctx, e.platform+"."+op, fn)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	e.logger.Error("send abandoned",
		"platform", e.platform,
		"op", op,
		"conversation_id", conversationID,
		"attempts", attempts,
		"error", err,
	)
	if e.onFailure != nil {
		e.onFailure(Failure{
			Platform:       e.platform,
			Op:             op,
			ConversationID: conversationID,
			Attempts:       attempts,
			Err:            err,
		})
	}
	return err
}
