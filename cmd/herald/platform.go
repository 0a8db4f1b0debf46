package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sourcegraph/conc"

	"github.com/MikeSquared-Agency/herald/internal/answer"
	"github.com/MikeSquared-Agency/herald/internal/config"
	"github.com/MikeSquared-Agency/herald/internal/delivery"
	"github.com/MikeSquared-Agency/herald/internal/hermes"
	"github.com/MikeSquared-Agency/herald/internal/imaging"
	"github.com/MikeSquared-Agency/herald/internal/intake"
	"github.com/MikeSquared-Agency/herald/internal/processor"
	"github.com/MikeSquared-Agency/herald/internal/queue"
	"github.com/MikeSquared-Agency/herald/internal/slack"
	"github.com/MikeSquared-Agency/herald/internal/telegram"
)

type pipelineDeps struct {
	cfg         config.Config
	holder      *config.Holder
	answers     *answer.Engine
	images      *imaging.Dispatcher
	transcriber processor.Transcriber
	events      *hermes.Emitter
}

// pipeline is one platform's gateway, queue and consumer.
type pipeline struct {
	name  string
	queue *queue.Queue[intake.WorkItem]
	proc  *processor.Processor
	poll  func(ctx context.Context) error // nil for push-fed platforms
}

func newQueue(name string, deps pipelineDeps) *queue.Queue[intake.WorkItem] {
	var q *queue.Queue[intake.WorkItem]
	q = queue.New(name, deps.cfg.QueueCapacity, slog.Default(),
		queue.WithOnDrop(func(item intake.WorkItem) {
			deps.events.Emit(hermes.SubjectQueueDropped, queueDropped(name, q, item))
		}),
	)
	return q
}

func queueDropped(name string, q *queue.Queue[intake.WorkItem], item intake.WorkItem) hermes.QueueDropped {
	return hermes.QueueDropped{
		Queue:          name,
		CorrelationRef: item.CorrelationRef.String(),
		ContextID:      item.ContextID,
		Dropped:        q.Dropped(),
	}
}

func newDelivery(name string, sender delivery.Sender, deps pipelineDeps) *delivery.Engine {
	return delivery.NewEngine(name, sender, delivery.NewRetrier(slog.Default()), slog.Default(),
		delivery.WithOnFailure(func(f delivery.Failure) {
			deps.events.Emit(hermes.SubjectDeliveryFailed, hermes.DeliveryFailed{
				Platform:       f.Platform,
				Op:             f.Op,
				ConversationID: f.ConversationID,
				Attempts:       f.Attempts,
				Error:          f.Err.Error(),
			})
		}),
	)
}

func newProcessor(platform processor.Platform, deps pipelineDeps) *processor.Processor {
	return processor.New(platform, deps.holder, deps.answers, deps.images, deps.transcriber, deps.events, slog.Default())
}

func startTelegram(ctx context.Context, deps pipelineDeps) *pipeline {
	cfg := deps.cfg
	if cfg.TelegramToken == "" {
		slog.Info("TELEGRAM_BOT_TOKEN not set, telegram disabled")
		return nil
	}

	q := newQueue(intake.PlatformTelegram, deps)
	gateway := intake.NewGateway(intake.PlatformTelegram, q, slog.Default(),
		intake.WithBotNames(cfg.TelegramBotNames),
		intake.WithGroupContextPerUser(cfg.TelegramGroupContextPerUser),
	)
	adapter := telegram.NewAdapter(telegram.NewClient(cfg.TelegramToken), gateway, slog.Default(),
		telegram.WithSkipUpdates(cfg.TelegramSkipUpdates),
	)
	if err := adapter.Start(ctx); err != nil {
		slog.Error("telegram adapter declined to start", "error", err)
		return nil
	}

	proc := newProcessor(processor.Platform{
		Name:     intake.PlatformTelegram,
		Sender:   newDelivery(intake.PlatformTelegram, adapter, deps),
		Audio:    adapter,
		Showroom: cfg.TelegramShowroom,
	}, deps)

	slog.Info("telegram adapter ready", "bot", adapter.Me().Username)
	return &pipeline{name: intake.PlatformTelegram, queue: q, proc: proc, poll: adapter.Run}
}

func startSlack(deps pipelineDeps, bus *hermes.Client) *pipeline {
	cfg := deps.cfg
	if cfg.SlackBotToken == "" {
		slog.Info("SLACK_BOT_TOKEN not set, slack disabled")
		return nil
	}
	if bus == nil {
		slog.Error("slack adapter declined to start: inbound messages need NATS")
		return nil
	}

	q := newQueue(intake.PlatformSlack, deps)
	gateway := intake.NewGateway(intake.PlatformSlack, q, slog.Default(),
		intake.WithBotNames(cfg.SlackBotNames),
	)
	adapter := slack.NewAdapter(slack.NewPoster(cfg.SlackBotToken, slog.Default()), gateway, cfg.SlackBotUserID, slog.Default())
	if err := bus.Subscribe(cfg.SlackMessageSubject, adapter.HandleMessage); err != nil {
		slog.Error("slack adapter declined to start", "error", err)
		return nil
	}

	proc := newProcessor(processor.Platform{
		Name:     intake.PlatformSlack,
		Sender:   newDelivery(intake.PlatformSlack, adapter, deps),
		Showroom: cfg.SlackShowroom,
	}, deps)

	slog.Info("slack adapter ready", "subject", cfg.SlackMessageSubject)
	return &pipeline{name: intake.PlatformSlack, queue: q, proc: proc}
}

// run drives the platform until ctx is cancelled. A failing poller does not stop the consumer.
func (p *pipeline) run(ctx context.Context) {
	logger := slog.With("platform", p.name)

	var wg conc.WaitGroup
	defer wg.Wait()
	if p.poll != nil {
		wg.Go(func() {
			if err := p.poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("poller stopped", "error", err)
			}
		})
	}
	if err := p.queue.Run(ctx, p.proc.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
	}
}
