package answer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/herald/internal/ollama"
	"github.com/MikeSquared-Agency/herald/internal/store"
)

// State is a step of the per-turn retry protocol.
type State int

const (
	StateIdle State = iota
	StateSent
	StateValidating
	StateAccepted
	StateRetrying
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateValidating:
		return "validating"
	case StateAccepted:
		return "accepted"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// RetryState tracks one turn: the attempt counter and the context length before the turn started.
type RetryState struct {
	Attempt      int
	InitialCount int
	State        State
}

// Settings is the per-turn slice of configuration. It is built from one config snapshot and not shared.
type Settings struct {
	SystemPrompt   string
	MaxContextMsgs int
	MaxRetries     int
	Temperature    float64
	Validator      ValidatorSettings
}

type Result struct {
	Answer   *ClientAnswer // nil when the retry budget was exhausted
	Attempts int
	State    State
}

type Engine struct {
	gen       Generator
	validator *Validator
	store     *store.Conversations
	logger    *slog.Logger
}

func NewEngine(gen Generator, validator *Validator, conversations *store.Conversations, logger *slog.Logger) *Engine {
	return &Engine{gen: gen, validator: validator, store: conversations, logger: logger}
}

// Answer runs one conversational turn for contextID.
//
// Every failed attempt rolls the context back to its pre-turn length, so retries resend the same input
// and a failed turn never leaves partial assistant messages in history. The only error returned is
// ctx.Err(); on cancellation nothing is persisted.
func (e *Engine) Answer(ctx context.Context, settings Settings, contextID, message string) (*Result, error) {
	conv := e.store.Load(ctx, contextID, settings.SystemPrompt)

	maxRetries := settings.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	rs := RetryState{InitialCount: conv.Len(), State: StateIdle}

	e.logger.Debug("turn started",
		"context_id", contextID,
		"messages", rs.InitialCount,
		"max_messages", settings.MaxContextMsgs,
	)

	for rs.Attempt < maxRetries {
		rs.Attempt++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rs.State = StateSent
		raw, err := e.send(ctx, conv, settings.Temperature, message)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Error("generator call failed", "context_id", contextID, "attempt", rs.Attempt, "error", err)
			e.retryOrExhaust(conv, &rs, maxRetries)
			continue
		}

		rs.State = StateValidating
		answer, ok := e.validator.Validate(ctx, raw, settings.Validator)
		if !ok {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.retryOrExhaust(conv, &rs, maxRetries)
			continue
		}

		// Store the canonical form so history stays consistent with what the model is asked to produce.
		conv.Last().Content = answer.Canonical()
		rs.State = StateAccepted
		if removed := conv.Trim(settings.MaxContextMsgs); removed > 0 {
			e.logger.Debug("context trimmed", "context_id", contextID, "removed", removed)
		}
		_ = e.store.Save(ctx, conv)

		e.logger.Info("turn accepted",
			"context_id", contextID,
			"attempts", rs.Attempt,
			"messages", conv.Len(),
		)
		return &Result{Answer: answer, Attempts: rs.Attempt, State: rs.State}, nil
	}

	_ = e.store.Save(ctx, conv)
	e.logger.Warn("turn exhausted", "context_id", contextID, "attempts", rs.Attempt)
	return &Result{Attempts: rs.Attempt, State: StateExhausted}, nil
}

// send appends the user message, streams the whole context and appends the accumulated reply.
func (e *Engine) send(ctx context.Context, conv *store.Context, temperature float64, message string) (string, error) {
	conv.Append(store.RoleUser, message)

	msgs := make([]ollama.Message, len(conv.Messages))
	for i, m := range conv.Messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	var sb strings.Builder
	if err := e.gen.Stream(ctx, msgs, temperature, func(s string) { sb.WriteString(s) }); err != nil {
		return "", err
	}

	raw := strings.TrimSpace(sb.String())
	conv.Append(store.RoleAssistant, raw)
	e.logger.Debug("generator answer", "context_id", conv.ID, "answer", raw)
	return raw, nil
}

func (e *Engine) retryOrExhaust(conv *store.Context, rs *RetryState, maxRetries int) {
	removed := conv.Rollback(rs.InitialCount)
	if rs.Attempt < maxRetries {
		rs.State = StateRetrying
		e.logger.Warn("retrying turn",
			"context_id", conv.ID,
			"attempt", rs.Attempt+1,
			"max_attempts", maxRetries,
			"rolled_back", removed,
		)
		return
	}
	rs.State = StateExhausted
}
