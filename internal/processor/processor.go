package processor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/herald/internal/answer"
	"github.com/MikeSquared-Agency/herald/internal/config"
	"github.com/MikeSquared-Agency/herald/internal/delivery"
	"github.com/MikeSquared-Agency/herald/internal/hermes"
	"github.com/MikeSquared-Agency/herald/internal/intake"
)

// minPromptLen is the shortest image prompt worth rendering when the answer also carries text.
const minPromptLen = 10

// Turn outcomes reported in herald.turn.completed.
const (
	OutcomeText         = "text"
	OutcomeImage        = "image"
	OutcomeImageFailed  = "image_failed"
	OutcomeNoAnswer     = "no_answer"
	OutcomeNoTranscript = "no_transcript"
	OutcomeError        = "error"
	OutcomeCancelled    = "cancelled"
)

type Answerer interface {
	Answer(ctx context.Context, settings answer.Settings, contextID, message string) (*answer.Result, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt, orientation string) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type AudioFetcher interface {
	FetchAudio(ctx context.Context, ref *intake.AudioRef) ([]byte, error)
}

type SnapshotSource interface {
	Current() *config.Snapshot
}

// Platform is everything the processor needs to reply on one chat platform.
type Platform struct {
	Name     string
	Sender   delivery.Sender
	Audio    AudioFetcher // nil when the platform delivers no voice messages
	Showroom string
}

// Processor is the queue consumer body for one platform.
type Processor struct {
	platform  Platform
	snapshots SnapshotSource
	answers   Answerer
	images    ImageGenerator
	speech    Transcriber
	events    *hermes.Emitter
	logger    *slog.Logger
}

// New builds a processor. speech may be nil, in which case voice messages are not transcribed.
func New(platform Platform, snapshots SnapshotSource, answers Answerer, images ImageGenerator, speech Transcriber, events *hermes.Emitter, logger *slog.Logger) *Processor {
	return &Processor{
		platform:  platform,
		snapshots: snapshots,
		answers:   answers,
		images:    images,
		speech:    speech,
		events:    events,
		logger:    logger.With("platform", platform.Name),
	}
}

type turn struct {
	item     intake.WorkItem
	snap     *config.Snapshot
	outcome  string
	attempts int
	image    bool
}

// Handle runs one work item to completion. Only context cancellation is returned;
// every other failure is logged and answered with a fallback reply.
func (p *Processor) Handle(ctx context.Context, item intake.WorkItem) (err error) {
	start := time.Now()
	t := &turn{item: item, snap: p.snapshots.Current()}
	log := p.logger.With("correlation_ref", item.CorrelationRef, "context_id", item.ContextID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked", "panic", r, "stack", string(debug.Stack()))
			t.outcome = OutcomeError
			p.reply(ctx, t, t.snap.Config.FallbackError)
			err = nil
		}
		if t.outcome == "" {
			t.outcome = OutcomeCancelled
		}
		p.events.Emit(hermes.SubjectTurnCompleted, hermes.TurnCompleted{
			CorrelationRef: item.CorrelationRef.String(),
			Platform:       item.Platform,
			ContextID:      item.ContextID,
			Trigger:        item.Trigger.String(),
			Outcome:        t.outcome,
			Attempts:       t.attempts,
			Image:          t.image,
			DurationMS:     time.Since(start).Milliseconds(),
		})
		log.Info("turn finished", "outcome", t.outcome, "attempts", t.attempts, "duration", time.Since(start))
	}()

	message, err := p.message(ctx, t, log)
	if err != nil {
		return err
	}
	if message == "" {
		return nil
	}

	p.typing(ctx, item)
	settings := turnSettings(t.snap)
	res, err := p.answers.Answer(ctx, settings, item.ContextID, message)
	if err != nil {
		return err
	}
	t.attempts = res.Attempts
	if res.Answer == nil {
		t.outcome = OutcomeNoAnswer
		p.reply(ctx, t, t.snap.Config.FallbackNoAnswer)
		return ctx.Err()
	}

	return p.deliver(ctx, t, res.Answer, log)
}

// message resolves the text to answer, transcribing voice first. An empty result ends the turn.
func (p *Processor) message(ctx context.Context, t *turn, log *slog.Logger) (string, error) {
	item := t.item
	if item.Audio == nil {
		return item.Text, nil
	}
	if p.speech == nil || p.platform.Audio == nil {
		log.Warn("voice message ignored, speech recognition disabled")
		if item.Text == "" {
			t.outcome = OutcomeNoTranscript
		}
		return item.Text, nil
	}

	p.typing(ctx, item)
	transcript, err := p.transcribe(ctx, item.Audio)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Error("transcription failed", "file_id", item.Audio.FileID, "error", err)
		t.outcome = OutcomeError
		p.reply(ctx, t, t.snap.Config.FallbackError)
		return "", nil
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		log.Info("empty transcript")
		t.outcome = OutcomeNoTranscript
		return "", nil
	}
	log.Debug("transcribed", "chars", utf8.RuneCountInString(transcript))
	p.reply(ctx, t, transcript)

	if item.Text != "" {
		return item.Text + "\n" + transcript, nil
	}
	return transcript, nil
}

func (p *Processor) transcribe(ctx context.Context, ref *intake.AudioRef) (string, error) {
	audio, err := p.platform.Audio.FetchAudio(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}
	return p.speech.Transcribe(ctx, audio)
}

func (p *Processor) deliver(ctx context.Context, t *turn, a *answer.ClientAnswer, log *slog.Logger) error {
	if a.Text != "" && utf8.RuneCountInString(a.Prompt) < minPromptLen {
		t.outcome = OutcomeText
		p.reply(ctx, t, a.Text)
		return ctx.Err()
	}

	p.typing(ctx, t.item)
	img, err := p.images.Generate(ctx, a.Prompt, a.Orientation)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Error("image generation failed", "error", err)
		t.outcome = OutcomeImageFailed
		if a.Text != "" {
			p.reply(ctx, t, a.Text)
		} else {
			p.reply(ctx, t, t.snap.Config.FallbackNoImage)
		}
		return ctx.Err()
	}

	t.outcome = OutcomeImage
	t.image = true
	caption := a.Text
	if caption == "" {
		caption = a.Prompt
	}
	item := t.item
	if err := p.platform.Sender.SendPhoto(ctx, item.ConversationID, img, caption, item.MessageID); err != nil {
		return ctx.Err()
	}
	if p.platform.Showroom != "" {
		_ = p.platform.Sender.SendPhoto(ctx, p.platform.Showroom, img, a.Prompt, "")
	}
	return ctx.Err()
}

// reply sends text in response to the item. Delivery failures are reported by the delivery engine.
func (p *Processor) reply(ctx context.Context, t *turn, text string) {
	_ = p.platform.Sender.SendText(ctx, t.item.ConversationID, text, t.item.MessageID)
}

func (p *Processor) typing(ctx context.Context, item intake.WorkItem) {
	_ = p.platform.Sender.SendTyping(ctx, item.ConversationID)
}

func turnSettings(snap *config.Snapshot) answer.Settings {
	cfg := snap.Config
	return answer.Settings{
		SystemPrompt:   snap.SystemPrompt,
		MaxContextMsgs: cfg.MaxContextMsgs,
		MaxRetries:     cfg.MaxAnswerRetries,
		Temperature:    cfg.DialogTemperature,
		Validator: answer.ValidatorSettings{
			Enabled:     cfg.UseJSONValidator,
			Prompt:      snap.ValidatorPrompt,
			Temperature: cfg.ValidatorTemperature,
		},
	}
}
