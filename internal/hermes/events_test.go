package hermes

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	subjects []string
	payloads []any
	err      error
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func TestEmitter_Publishes(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEmitter(pub, discardLogger())

	e.Emit(SubjectQueueDropped, QueueDropped{Queue: "telegram", Dropped: 3})

	if len(pub.subjects) != 1 || pub.subjects[0] != "herald.queue.dropped" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	if got := pub.payloads[0].(QueueDropped).Dropped; got != 3 {
		t.Errorf("expected dropped 3, got %d", got)
	}
}

func TestEmitter_PublishErrorIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	e := NewEmitter(pub, discardLogger())

	e.Emit(SubjectTurnCompleted, TurnCompleted{Outcome: "answered"})

	if len(pub.subjects) != 1 {
		t.Errorf("expected one publish attempt, got %d", len(pub.subjects))
	}
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var nilEmitter *Emitter
	nilEmitter.Emit(SubjectTurnCompleted, TurnCompleted{})

	NewEmitter(nil, discardLogger()).Emit(SubjectTurnCompleted, TurnCompleted{})
}

func TestTurnCompletedWireFormat(t *testing.T) {
	data, err := json.Marshal(TurnCompleted{
		CorrelationRef: "c0ffee",
		Platform:       "telegram",
		ContextID:      "telegram:42",
		Trigger:        "mention",
		Outcome:        "image",
		Attempts:       2,
		Image:          true,
		DurationMS:     1500,
	})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	var raw map[string]any
	json.Unmarshal(data, &raw)
	for _, key := range []string{"correlation_ref", "platform", "context_id", "trigger", "outcome", "attempts", "image", "duration_ms"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}
