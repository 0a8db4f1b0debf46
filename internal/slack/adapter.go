package slack

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/herald/internal/intake"
)

const maxTextLen = 3900

// Submitter receives translated events. intake.Gateway implements it.
type Submitter interface {
	Submit(ev intake.Event) bool
}

var unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

// Adapter bridges Slack into the pipeline. Inbound messages arrive from slack-forwarder
// over NATS; replies go out through the Web API.
type Adapter struct {
	poster    *Poster
	gateway   Submitter
	botUserID string
	logger    *slog.Logger
}

func NewAdapter(poster *Poster, gateway Submitter, botUserID string, logger *slog.Logger) *Adapter {
	return &Adapter{poster: poster, gateway: gateway, botUserID: botUserID, logger: logger}
}

// HandleMessage is the NATS subscription callback for relayed Slack messages.
func (a *Adapter) HandleMessage(subject string, data []byte) {
	msg, err := ParseMessageEvent(data)
	if err != nil {
		a.logger.Warn("failed to parse slack message", "subject", subject, "error", err)
		return
	}
	if ev, ok := a.Event(msg); ok {
		a.gateway.Submit(ev)
	}
}

// Event translates a relayed message. The bot's own posts, other bots and edits are not events.
func (a *Adapter) Event(m *MessageEvent) (intake.Event, bool) {
	if m.BotID != "" || m.Subtype != "" || m.UserID == "" || m.UserID == a.botUserID {
		return intake.Event{}, false
	}

	// Replies go into the thread the message belongs to, or start one under it.
	replyTo := m.ThreadTS
	if replyTo == "" {
		replyTo = m.MessageTS
	}

	ev := intake.Event{
		Platform:       intake.PlatformSlack,
		ConversationID: m.Channel,
		MessageID:      replyTo,
		AuthorID:       m.UserID,
		AuthorName:     m.UserName,
		IsPrivate:      m.ChannelType == "im",
		RepliedToBot:   m.ParentUserID != "" && m.ParentUserID == a.botUserID,
		Text:           unescaper.Replace(m.Text),
	}
	if a.botUserID != "" {
		for _, tok := range mentionTokens(ev.Text, a.botUserID) {
			ev.Mentioned = true
			ev.MentionTokens = append(ev.MentionTokens, tok)
		}
	}
	if strings.TrimSpace(ev.Text) == "" {
		return intake.Event{}, false
	}
	return ev, true
}

// mentionTokens finds <@U123> and <@U123|name> references to userID.
func mentionTokens(text, userID string) []string {
	var toks []string
	prefix := "<@" + userID
	for rest := text; ; {
		i := strings.Index(rest, prefix)
		if i < 0 {
			return toks
		}
		rest = rest[i:]
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return toks
		}
		if next := rest[len(prefix)]; next == '>' || next == '|' {
			toks = append(toks, rest[:end+1])
		}
		rest = rest[end+1:]
	}
}

func (a *Adapter) SendText(ctx context.Context, conversationID, text, replyTo string) error {
	_, err := a.poster.PostMessage(ctx, conversationID, truncate(text, maxTextLen), threadFor(conversationID, replyTo))
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, conversationID string, image []byte, caption, replyTo string) error {
	return a.poster.UploadFile(ctx, conversationID, image, "herald.png", truncate(caption, maxTextLen), threadFor(conversationID, replyTo))
}

// SendTyping is a no-op: bot tokens have no typing indicator in the Web API.
func (a *Adapter) SendTyping(context.Context, string) error { return nil }

// threadFor keeps direct messages flat; channel replies are threaded.
func threadFor(conversationID, replyTo string) string {
	if strings.HasPrefix(conversationID, "D") {
		return ""
	}
	return replyTo
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
