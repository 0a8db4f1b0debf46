package imaging

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/MikeSquared-Agency/herald/internal/fault"
)

type Settings struct {
	WorkflowPath string
	Fields       FieldMap
	Width        int
	Height       int
	Steps        int
	Attempts     int
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Dispatcher turns an image prompt into image bytes.
type Dispatcher struct {
	client   *Client
	settings Settings
	logger   *slog.Logger
	seed     func() int64
}

func NewDispatcher(client *Client, settings Settings, logger *slog.Logger) *Dispatcher {
	if settings.Attempts < 1 {
		settings.Attempts = 1
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 300 * time.Millisecond
	}
	if settings.PollTimeout <= 0 {
		settings.PollTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		client:   client,
		settings: settings,
		logger:   logger,
		seed:     func() int64 { return rand.Int64N(math.MaxInt64) },
	}
}

// Generate renders prompt in the given orientation. Transient failures are retried
// up to the configured number of attempts; fatal ones return immediately.
func (d *Dispatcher) Generate(ctx context.Context, prompt, orientation string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= d.settings.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := d.generateOnce(ctx, prompt, orientation)
		if err == nil {
			return img, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !fault.IsTransient(err) {
			d.logger.Error("image generation failed", "attempt", attempt, "error", err)
			return nil, err
		}
		d.logger.Warn("image generation attempt failed",
			"attempt", attempt,
			"max_attempts", d.settings.Attempts,
			"error", err,
		)
	}
	return nil, lastErr
}

func (d *Dispatcher) generateOnce(ctx context.Context, prompt, orientation string) ([]byte, error) {
	tmpl, err := LoadTemplate(d.settings.WorkflowPath)
	if err != nil {
		return nil, fault.Fatal("comfyui template", err)
	}

	req := Request{
		PositivePrompt: prompt,
		Orientation:    orientation,
		Seed:           d.seed(),
		Steps:          d.settings.Steps,
	}
	d.settings.Fields.Apply(tmpl, req, d.settings.Width, d.settings.Height)

	promptID, err := d.client.Submit(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	d.logger.Info("image generation started", "prompt_id", promptID, "orientation", orientation, "seed", req.Seed)

	out, err := d.client.Poll(ctx, promptID, d.settings.Fields.OutputNode, d.settings.PollInterval, d.settings.PollTimeout)
	if err != nil {
		return nil, err
	}

	data, err := d.client.Fetch(ctx, out)
	if err != nil {
		return nil, err
	}
	d.logger.Info("image downloaded", "prompt_id", promptID, "filename", out.Filename, "bytes", len(data))
	return data, nil
}
