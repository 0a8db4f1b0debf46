package hermes

import (
	"log/slog"
	"time"
)

const (
	SubjectRegistered     = "swarm.agent.herald.registered"
	SubjectTurnCompleted  = "herald.turn.completed"
	SubjectQueueDropped   = "herald.queue.dropped"
	SubjectDeliveryFailed = "herald.delivery.failed"
)

// Registered announces the process to the swarm on startup.
type Registered struct {
	AgentID   string    `json:"agent_id"`
	Platforms []string  `json:"platforms"`
	Model     string    `json:"model"`
	StartedAt time.Time `json:"started_at"`
}

// TurnCompleted is emitted once per handled work item, whatever the outcome.
type TurnCompleted struct {
	CorrelationRef string `json:"correlation_ref"`
	Platform       string `json:"platform"`
	ContextID      string `json:"context_id"`
	Trigger        string `json:"trigger"`
	Outcome        string `json:"outcome"`
	Attempts       int    `json:"attempts"`
	Image          bool   `json:"image"`
	DurationMS     int64  `json:"duration_ms"`
}

type QueueDropped struct {
	Queue          string `json:"queue"`
	CorrelationRef string `json:"correlation_ref"`
	ContextID      string `json:"context_id"`
	Dropped        uint64 `json:"dropped"`
}

type DeliveryFailed struct {
	Platform       string `json:"platform"`
	Op             string `json:"op"`
	ConversationID string `json:"conversation_id"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error"`
}

// Publisher is the publishing half of Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// Emitter publishes events best-effort. A nil publisher turns every call into a no-op,
// which is how the service runs without NATS.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
}

func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger}
}

func (e *Emitter) Emit(subject string, event any) {
	if e == nil || e.pub == nil {
		return
	}
	if err := e.pub.Publish(subject, event); err != nil {
		e.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
