package failover

import (
	"fmt"

	"github.com/google/uuid"
)

// EventName is a dotted event taxonomy (replication.promotion.*), kept
// stable for whatever the caller wires the sink to (logs, metrics, tests).
type EventName string

const (
	EventRequested            EventName = "replication.promotion.requested"
	EventValidationStarted    EventName = "replication.promotion.validation_started"
	EventValidationFailed     EventName = "replication.promotion.validation_failed"
	EventValidationSucceeded  EventName = "replication.promotion.validation_succeeded"
	EventTransitionStarted    EventName = "replication.promotion.transition_started"
	EventTransitionCompleted  EventName = "replication.promotion.transition_completed"
	EventAbortedOnCrash       EventName = "replication.promotion.aborted_on_crash"
)

// Event is one observability record. Every promotion attempt must emit a
// Requested event, a validation outcome, and a final decision — silent
// promotion is forbidden. Observability describes what happened; it never
// gates what happens next.
type Event struct {
	Name            EventName
	ReplicaID       uuid.UUID
	NewPrimaryID    uuid.UUID
	FailedInvariant string
	FailureReason   string
	LastKnownState  string
}

// EventSink receives promotion events. The default is a no-op so callers
// that don't care about observability don't have to wire anything.
type EventSink interface {
	Emit(Event)
}

type noopSink struct{}

func (noopSink) Emit(Event) {}

// NoopSink is an EventSink that discards every event.
var NoopSink EventSink = noopSink{}

// Explanation is the required-per-decision artifact (§4.8 "every promotion
// decision must be explainable").
type Explanation struct {
	ReplicaID uuid.UUID
	Result    ValidationResult
}

// String renders a human-readable explanation.
func (e Explanation) String() string {
	return fmt.Sprintf("replica %s: %s", e.ReplicaID, e.Result.Explain())
}
