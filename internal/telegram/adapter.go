package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/MikeSquared-Agency/herald/internal/intake"
)

// Limits in UTF-16 code units. Captions leave room for the "..." suffix under Telegram's 1024.
const (
	maxTextLen    = 4096
	maxCaptionLen = 1000
)

// Submitter receives translated events. intake.Gateway implements it.
type Submitter interface {
	Submit(ev intake.Event) bool
}

type Option func(*Adapter)

// WithSkipUpdates drops the update backlog that accumulated while the bot was offline.
func WithSkipUpdates(skip bool) Option {
	return func(a *Adapter) { a.skipUpdates = skip }
}

func WithPollTimeout(seconds int) Option {
	return func(a *Adapter) { a.pollTimeout = seconds }
}

// Adapter connects a Telegram bot to the pipeline: it long-polls for messages, hands them to
// the gateway and implements the outbound sender.
type Adapter struct {
	client      *Client
	gateway     Submitter
	logger      *slog.Logger
	skipUpdates bool
	pollTimeout int
	errBackoff  time.Duration

	me *User
}

func NewAdapter(client *Client, gateway Submitter, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		client:      client,
		gateway:     gateway,
		logger:      logger,
		pollTimeout: 30,
		errBackoff:  3 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start resolves the bot identity. A failure here means the token is unusable and the
// adapter should not run.
func (a *Adapter) Start(ctx context.Context) error {
	me, err := a.client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	a.me = me
	a.logger.Info("telegram bot ready", "bot_id", me.ID, "username", me.Username)
	return nil
}

func (a *Adapter) Me() *User { return a.me }

// Run polls for updates until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	if a.me == nil {
		return errors.New("telegram adapter not started")
	}

	offset := 0
	if a.skipUpdates {
		offset = a.skipBacklog(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := a.client.GetUpdates(ctx, offset, a.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.errBackoff):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil {
				continue
			}
			if ev, ok := a.Event(u.Message); ok {
				a.gateway.Submit(ev)
			}
		}
	}
}

// skipBacklog confirms everything queued on the server and returns the offset to resume from.
func (a *Adapter) skipBacklog(ctx context.Context) int {
	updates, err := a.client.GetUpdates(ctx, -1, 0)
	if err != nil {
		a.logger.Warn("failed to skip pending updates", "error", err)
		return 0
	}
	if len(updates) == 0 {
		return 0
	}
	offset := updates[len(updates)-1].UpdateID + 1
	a.logger.Info("skipped pending updates", "next_offset", offset)
	return offset
}

// Event translates a Telegram message. Messages from bots and service messages are not events.
func (a *Adapter) Event(m *Message) (intake.Event, bool) {
	if m.From == nil || m.From.IsBot {
		return intake.Event{}, false
	}

	text, entities := m.Text, m.Entities
	if text == "" {
		text, entities = m.Caption, m.CaptionEntities
	}

	ev := intake.Event{
		Platform:       intake.PlatformTelegram,
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		MessageID:      strconv.Itoa(m.MessageID),
		AuthorID:       strconv.FormatInt(m.From.ID, 10),
		AuthorName:     m.From.DisplayName(),
		IsPrivate:      m.Chat.Type == "private",
		Text:           text,
	}

	for _, e := range entities {
		switch e.Type {
		case "mention":
			tok := entityText(text, e)
			if a.me != nil && strings.EqualFold(tok, "@"+a.me.Username) {
				ev.Mentioned = true
				ev.MentionTokens = append(ev.MentionTokens, tok)
			}
		case "text_mention":
			if a.me != nil && e.User != nil && e.User.ID == a.me.ID {
				ev.Mentioned = true
				ev.MentionTokens = append(ev.MentionTokens, entityText(text, e))
			}
		}
	}

	if r := m.ReplyToMessage; r != nil && r.From != nil && a.me != nil && r.From.ID == a.me.ID {
		ev.RepliedToBot = true
	}

	voice := m.Voice
	if voice == nil {
		voice = m.Audio
	}
	if voice != nil {
		ev.Audio = &intake.AudioRef{
			FileID:   voice.FileID,
			MimeType: voice.MimeType,
			Duration: time.Duration(voice.Duration) * time.Second,
		}
	}

	if ev.Text == "" && ev.Audio == nil {
		return intake.Event{}, false
	}
	return ev, true
}

// entityText cuts an entity out of text. Offsets are in UTF-16 code units.
func entityText(text string, e MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

func (a *Adapter) SendText(ctx context.Context, conversationID, text, replyTo string) error {
	_, err := a.client.SendMessage(ctx, conversationID, truncate(text, maxTextLen, ""), replyTo)
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, conversationID string, image []byte, caption, replyTo string) error {
	_, err := a.client.SendPhoto(ctx, conversationID, image, truncate(caption, maxCaptionLen, "..."), replyTo)
	return err
}

func (a *Adapter) SendTyping(ctx context.Context, conversationID string) error {
	return a.client.SendChatAction(ctx, conversationID, "typing")
}

// FetchAudio downloads a voice message.
func (a *Adapter) FetchAudio(ctx context.Context, ref *intake.AudioRef) ([]byte, error) {
	f, err := a.client.GetFile(ctx, ref.FileID)
	if err != nil {
		return nil, err
	}
	return a.client.Download(ctx, f.FilePath)
}

// truncate cuts s to max UTF-16 code units, the unit Telegram counts limits in, and appends
// suffix when it had to cut. A surrogate pair is never split.
func truncate(s string, max int, suffix string) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= max {
		return s
	}
	n := max
	if n > 0 && utf16.IsSurrogate(rune(units[n-1])) && units[n-1] < 0xdc00 {
		n--
	}
	return string(utf16.Decode(units[:n])) + suffix
}
