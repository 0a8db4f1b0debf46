package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/MikeSquared-Agency/herald/internal/answer"
	"github.com/MikeSquared-Agency/herald/internal/api"
	"github.com/MikeSquared-Agency/herald/internal/config"
	"github.com/MikeSquared-Agency/herald/internal/hermes"
	"github.com/MikeSquared-Agency/herald/internal/imaging"
	"github.com/MikeSquared-Agency/herald/internal/ollama"
	"github.com/MikeSquared-Agency/herald/internal/processor"
	"github.com/MikeSquared-Agency/herald/internal/speech"
	"github.com/MikeSquared-Agency/herald/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("herald starting", "port", cfg.Port, "model", cfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config snapshots and prompt hot reload
	holder := config.NewHolder(cfg, slog.Default())
	if watcher, err := config.NewWatcher(holder, slog.Default()); err != nil {
		slog.Warn("prompt watcher disabled", "error", err)
	} else {
		watcher.Start(ctx)
	}

	// Conversation store
	var backend store.Backend
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresBackend(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		backend = pg
		slog.Info("database connected")
	} else {
		backend = store.NewFileBackend(cfg.ContextsPath)
		slog.Info("file context store ready", "path", cfg.ContextsPath)
	}
	conversations := store.NewConversations(backend, slog.Default())

	// Generator, validator and answer engine
	llm := ollama.NewClient(cfg.OllamaURL, cfg.Model,
		ollama.WithKeepAlive(cfg.OllamaKeepAlive),
		ollama.WithNumCtx(cfg.MaxContextSize),
	)
	validator := answer.NewValidator(llm, slog.Default())
	answers := answer.NewEngine(llm, validator, conversations, slog.Default())

	// Image backend
	images := imaging.NewDispatcher(imaging.NewClient(cfg.ComfyUIURL), imaging.Settings{
		WorkflowPath: cfg.WorkflowPath,
		Fields: imaging.FieldMap{
			PositivePrompt: cfg.PositivePromptIDs,
			NegativePrompt: cfg.NegativePromptIDs,
			Width:          cfg.WidthIDs,
			Height:         cfg.HeightIDs,
			Seed:           cfg.SeedIDs,
			Steps:          cfg.StepsIDs,
			OutputNode:     cfg.OutputNodeID,
		},
		Width:        cfg.ImageWidth,
		Height:       cfg.ImageHeight,
		Steps:        cfg.ImageSteps,
		Attempts:     cfg.ImageAttempts,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	}, slog.Default())

	// Speech recognition (optional)
	var transcriber processor.Transcriber
	if cfg.WhisperURL != "" {
		transcriber = speech.NewGate(speech.NewWhisperClient(cfg.WhisperURL, cfg.WhisperLanguage, cfg.WhisperTranslate), slog.Default())
		slog.Info("speech recognition ready", "url", cfg.WhisperURL)
	} else {
		slog.Warn("WHISPER_URL not set, voice messages will not be transcribed")
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	var publisher hermes.Publisher
	if cfg.NatsURL != "" {
		c, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer c.Close()
		hermesClient, publisher = c, c
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, events disabled and slack inbound unavailable")
	}
	events := hermes.NewEmitter(publisher, slog.Default())

	deps := pipelineDeps{
		cfg:         cfg,
		holder:      holder,
		answers:     answers,
		images:      images,
		transcriber: transcriber,
		events:      events,
	}

	var platforms []*pipeline
	if _, err := imaging.LoadTemplate(cfg.WorkflowPath); err != nil {
		slog.Error("workflow template unusable, no platform started", "path", cfg.WorkflowPath, "error", err)
	} else {
		if p := startTelegram(ctx, deps); p != nil {
			platforms = append(platforms, p)
		}
		if p := startSlack(deps, hermesClient); p != nil {
			platforms = append(platforms, p)
		}
	}

	var names []string
	var queues []api.QueueStats
	for _, p := range platforms {
		names = append(names, p.name)
		queues = append(queues, p.queue)
	}

	var wg conc.WaitGroup
	for _, p := range platforms {
		wg.Go(func() { p.run(ctx) })
	}

	// HTTP API
	var apiOpts []api.Option
	if hermesClient != nil {
		apiOpts = append(apiOpts, api.WithBus(hermesClient))
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, holder, queues, slog.Default(), apiOpts...)
	wg.Go(func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	})

	// Announce registration
	events.Emit(hermes.SubjectRegistered, hermes.Registered{
		AgentID:   "herald",
		Platforms: names,
		Model:     cfg.Model,
		StartedAt: time.Now().UTC(),
	})

	slog.Info("herald ready", "platforms", names)

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
	slog.Info("herald stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
