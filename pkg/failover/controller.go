package failover

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/replication"
)

// Controller coordinates one promotion attempt end to end: request,
// validate, approve/deny, and (if approved) the atomic authority
// transition. It holds no authority of its own — Validate decides
// allow/deny, DurableMarker applies the transition — the controller is
// purely coordinating (§4.8).
//
// Non-responsibilities, carried over from the grounding source: the
// controller never writes the WAL, never mutates the replication state
// machine directly, never infers liveness, and never retries a denied
// promotion automatically — a fresh RequestPromotion call is required.
type Controller struct {
	machine *Machine
	marker  *DurableMarker
	sink    EventSink
}

// NewController returns a controller starting Steady, emitting to sink (use
// NoopSink if the caller doesn't need observability).
func NewController(marker *DurableMarker, sink EventSink) *Controller {
	if sink == nil {
		sink = NoopSink
	}

	return &Controller{machine: New(), marker: marker, sink: sink}
}

// State returns the current promotion state.
func (c *Controller) State() State {
	return c.machine.Current()
}

// RequestPromotion submits replicaID for promotion. Fails if a promotion
// is already in progress or replicaID is the nil UUID.
func (c *Controller) RequestPromotion(replicaID uuid.UUID) error {
	if replicaID == uuid.Nil {
		return aeroerr.New(aeroerr.CodePromotionDenied,
			fmt.Errorf("promotion request: replica id must not be nil"),
			aeroerr.WithComponent("failover"))
	}

	if c.machine.InProgress() {
		return aeroerr.New(aeroerr.CodePromotionDenied,
			fmt.Errorf("promotion request: already in progress for replica %s", c.machine.Current().ReplicaID),
			aeroerr.WithComponent("failover"))
	}

	if err := c.machine.RequestPromotion(replicaID); err != nil {
		return err
	}

	c.sink.Emit(Event{Name: EventRequested, ReplicaID: replicaID})

	return nil
}

// Validate runs the deterministic validator against ctx and advances the
// state machine to PromotionApproved or PromotionDenied accordingly,
// emitting the required lifecycle events. Returns the explanation artifact
// either way (§4.8 "every decision is explainable").
func (c *Controller) Validate(ctx ValidationContext) (Explanation, error) {
	replicaID := c.machine.Current().ReplicaID

	if err := c.machine.BeginValidation(); err != nil {
		return Explanation{}, err
	}

	c.sink.Emit(Event{Name: EventValidationStarted, ReplicaID: replicaID})

	result := Validate(ctx)

	if result.Allowed {
		if err := c.machine.ApprovePromotion(); err != nil {
			return Explanation{}, err
		}

		c.sink.Emit(Event{Name: EventValidationSucceeded, ReplicaID: replicaID})
	} else {
		if err := c.machine.DenyPromotion(result.Reason); err != nil {
			return Explanation{}, err
		}

		c.sink.Emit(Event{
			Name:            EventValidationFailed,
			ReplicaID:       replicaID,
			FailedInvariant: result.Reason.InvariantReference(),
			FailureReason:   result.Reason.String(),
		})
	}

	return Explanation{ReplicaID: replicaID, Result: result}, nil
}

// CompletePromotion runs the atomic authority transition for an approved
// promotion: durably write the authority marker, then record the state
// machine transition. The caller must hold the global execution lock,
// since this is the point at which a concurrent checkpoint or backup must
// not observe a half-transitioned authority state.
func (c *Controller) CompletePromotion(_ *execlock.Token, previousRole replication.Role) (uuid.UUID, error) {
	replicaID := c.machine.Current().ReplicaID

	if err := c.machine.BeginAuthorityTransition(); err != nil {
		return uuid.Nil, err
	}

	c.sink.Emit(Event{Name: EventTransitionStarted, ReplicaID: replicaID})

	marker := NewAuthorityMarker(replicaID, previousRoleName(previousRole))
	if err := c.marker.WriteAtomic(marker); err != nil {
		return uuid.Nil, err
	}

	if err := c.machine.CompleteTransition(); err != nil {
		return uuid.Nil, err
	}

	c.sink.Emit(Event{Name: EventTransitionCompleted, NewPrimaryID: replicaID})

	return replicaID, nil
}

// AcknowledgeSuccess returns the machine to Steady after a successful
// promotion has been observed by the caller.
func (c *Controller) AcknowledgeSuccess() error {
	return c.machine.AcknowledgeSuccess()
}

// AcknowledgeDenial returns the machine to Steady after a denied
// promotion has been observed by the caller. A fresh RequestPromotion is
// required to try again — denials are never retried automatically.
func (c *Controller) AcknowledgeDenial() error {
	return c.machine.AcknowledgeDenial()
}

// Recover reconstructs the controller's state from the durable marker
// alone, per §4.8's crash recovery contract: every transient state is
// forgotten, and only a completed authority transition survives.
func Recover(marker *DurableMarker, sink EventSink) (*Controller, error) {
	if sink == nil {
		sink = NoopSink
	}

	m, present, err := marker.Read()
	if err != nil {
		return nil, err
	}

	var newPrimaryID uuid.UUID

	if present {
		newPrimaryID, err = m.PrimaryID()
		if err != nil {
			return nil, aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
		}
	}

	state := RecoverAfterCrash(present, newPrimaryID)

	if !present {
		sink.Emit(Event{Name: EventAbortedOnCrash, LastKnownState: Steady.String()})
	}

	return &Controller{machine: &Machine{state: state}, marker: marker, sink: sink}, nil
}

func previousRoleName(r replication.Role) string {
	if r == replication.RolePrimary {
		return "Primary"
	}

	return "Replica"
}
