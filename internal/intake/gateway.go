package intake

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
)

// AudioRef points at a voice message stored on the platform. Only the owning adapter can resolve it.
type AudioRef struct {
	FileID   string
	MimeType string
	Duration time.Duration
}

// Event is a platform message translated by an adapter, before any filtering.
type Event struct {
	Platform       string
	ConversationID string
	MessageID      string
	AuthorID       string
	AuthorName     string
	IsPrivate      bool
	Mentioned      bool
	RepliedToBot   bool
	Text           string
	Audio          *AudioRef
	// MentionTokens are the literal strings that addressed the bot, e.g. "@herald_bot" or "<@U123>".
	MentionTokens []string
}

// WorkItem is one accepted event. It is not modified after Submit.
type WorkItem struct {
	Platform       string
	ConversationID string
	ContextID      string
	MessageID      string
	AuthorID       string
	AuthorName     string
	IsPrivate      bool
	Trigger        Trigger
	Text           string
	Audio          *AudioRef
	CorrelationRef uuid.UUID
	ReceivedAt     time.Time
}

// ContextID is the conversation store key for a platform conversation.
func ContextID(platform, conversationID string) string {
	return platform + ":" + conversationID
}

// Enqueuer is the non-blocking queue a gateway feeds.
type Enqueuer interface {
	Enqueue(item WorkItem) (dropped bool)
}

type Option func(*Gateway)

// WithBotNames sets the names that trigger the bot when they lead a group message.
func WithBotNames(names []string) Option {
	return func(g *Gateway) { g.botNames = names }
}

// WithGroupContextPerUser keys group conversations per author instead of per chat.
func WithGroupContextPerUser(enabled bool) Option {
	return func(g *Gateway) { g.perUserGroups = enabled }
}

// Gateway filters platform events and queues the accepted ones. Submit never blocks on I/O,
// so adapters can call it from their event loop.
type Gateway struct {
	platform      string
	queue         Enqueuer
	botNames      []string
	perUserGroups bool
	logger        *slog.Logger
	now           func() time.Time
}

func NewGateway(platform string, queue Enqueuer, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		platform: platform,
		queue:    queue,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit evaluates ev and enqueues it when it triggers the bot. It reports whether ev was accepted.
func (g *Gateway) Submit(ev Event) bool {
	if ev.Platform == "" {
		ev.Platform = g.platform
	}

	trigger := Evaluate(ev, g.botNames)
	if trigger == TriggerNone {
		g.logger.Debug("ignored",
			"platform", ev.Platform,
			"conversation_id", ev.ConversationID,
			"message_id", ev.MessageID,
			"author_id", ev.AuthorID,
		)
		return false
	}

	text := StripTokens(ev.Text, trigger, ev.MentionTokens, g.botNames)
	if text == "" && ev.Audio == nil {
		g.logger.Debug("ignored empty message",
			"platform", ev.Platform,
			"conversation_id", ev.ConversationID,
			"message_id", ev.MessageID,
		)
		return false
	}

	contextID := ContextID(ev.Platform, ev.ConversationID)
	if g.perUserGroups && !ev.IsPrivate && ev.AuthorID != "" {
		contextID += ":" + ev.AuthorID
	}

	item := WorkItem{
		Platform:       ev.Platform,
		ConversationID: ev.ConversationID,
		ContextID:      contextID,
		MessageID:      ev.MessageID,
		AuthorID:       ev.AuthorID,
		AuthorName:     ev.AuthorName,
		IsPrivate:      ev.IsPrivate,
		Trigger:        trigger,
		Text:           text,
		Audio:          ev.Audio,
		CorrelationRef: uuid.New(),
		ReceivedAt:     g.now(),
	}

	g.logger.Info("message accepted",
		"platform", item.Platform,
		"context_id", item.ContextID,
		"author", item.AuthorName,
		"trigger", item.Trigger.String(),
		"audio", item.Audio != nil,
		"correlation_ref", item.CorrelationRef.String(),
	)
	g.queue.Enqueue(item)
	return true
}
