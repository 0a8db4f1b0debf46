package config

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the configuration plus the prompt texts read from disk.
// A turn captures one snapshot and uses it throughout; reloads never mutate an existing snapshot.
type Snapshot struct {
	Config          Config
	SystemPrompt    string
	ValidatorPrompt string
	Version         uint64
	LoadedAt        time.Time
}

// Holder publishes the current Snapshot and swaps in a new one on Reload.
type Holder struct {
	current atomic.Pointer[Snapshot]
	reload  sync.Mutex
	version atomic.Uint64
	logger  *slog.Logger
}

func NewHolder(cfg Config, logger *slog.Logger) *Holder {
	h := &Holder{logger: logger}
	h.swap(cfg, "", "")
	return h
}

// Current returns the latest snapshot. Never nil.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Reload re-reads the prompt files against the current Config and publishes a new snapshot.
func (h *Holder) Reload() *Snapshot {
	h.reload.Lock()
	defer h.reload.Unlock()

	prev := h.current.Load()
	return h.swap(prev.Config, prev.SystemPrompt, prev.ValidatorPrompt)
}

func (h *Holder) swap(cfg Config, prevSystem, prevValidator string) *Snapshot {
	snap := &Snapshot{
		Config:          cfg,
		SystemPrompt:    h.readPrompt(cfg.SystemPromptPath, prevSystem),
		ValidatorPrompt: h.readPrompt(cfg.ValidatorPromptPath, prevValidator),
		Version:         h.version.Add(1),
		LoadedAt:        time.Now().UTC(),
	}
	h.current.Store(snap)
	h.logger.Info("config snapshot published",
		"version", snap.Version,
		"system_prompt_len", len(snap.SystemPrompt),
		"validator_prompt_len", len(snap.ValidatorPrompt),
	)
	return snap
}

// readPrompt keeps the previously loaded text when the file cannot be read.
func (h *Holder) readPrompt(path, prev string) string {
	if path == "" {
		return prev
	}
	data, err := os.ReadFile(path)
	if err != nil {
		h.logger.Error("failed to read prompt file", "path", path, "error", err)
		return prev
	}
	return string(data)
}
