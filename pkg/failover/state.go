// Package failover is the Failover & Promotion subsystem (§4.8): a
// promotion state machine orthogonal to replication's own state machine,
// a deterministic side-effect-free validator, and an atomic durable
// authority marker.

package failover

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aerodb/aerodb/internal/aeroerr"
)

// DenialReason is the exhaustive set of reasons a promotion can be denied,
// each tied to the invariant it would otherwise violate (§4.8).
type DenialReason int

const (
	ReplicaBehindWal DenialReason = iota
	InvalidReplicationState
	PrimaryStillActive
	AuthorityAmbiguous
	MvccVisibilityViolation
	ReplicaNotActive
	ReplicationDisabled
	InvalidRequest
)

// InvariantReference returns the invariant code this reason maps to.
func (r DenialReason) InvariantReference() string {
	switch r {
	case ReplicaBehindWal:
		return "P6-S1"
	case InvalidReplicationState:
		return "P6-S2"
	case PrimaryStillActive:
		return "P6-A1"
	case AuthorityAmbiguous:
		return "P6-A1"
	case MvccVisibilityViolation:
		return "P6-S3"
	case ReplicaNotActive:
		return "P6-A3"
	case ReplicationDisabled:
		return "P5-I16"
	case InvalidRequest:
		return "P6-A3"
	default:
		return ""
	}
}

func (r DenialReason) String() string {
	switch r {
	case ReplicaBehindWal:
		return "replica WAL position is behind committed primary WAL"
	case InvalidReplicationState:
		return "replica replication state does not satisfy the prefix rule"
	case PrimaryStillActive:
		return "current primary is still active; cannot have dual primaries"
	case AuthorityAmbiguous:
		return "write authority is ambiguous; cannot safely promote"
	case MvccVisibilityViolation:
		return "promotion would violate MVCC visibility guarantees"
	case ReplicaNotActive:
		return "replica is not in an active replication state"
	case ReplicationDisabled:
		return "replication is disabled; promotion is not applicable"
	case InvalidRequest:
		return "promotion request is invalid"
	default:
		return fmt.Sprintf("DenialReason(%d)", int(r))
	}
}

// StateKind is the exhaustive set of promotion states (§4.8). It is
// orthogonal to replication.Machine's own state: it observes and
// constrains replication transitions but never replaces them.
type StateKind int

const (
	Steady StateKind = iota
	PromotionRequested
	PromotionValidating
	PromotionApproved
	AuthorityTransitioning
	PromotionSucceeded
	PromotionDenied
)

func (k StateKind) String() string {
	switch k {
	case Steady:
		return "Steady"
	case PromotionRequested:
		return "PromotionRequested"
	case PromotionValidating:
		return "PromotionValidating"
	case PromotionApproved:
		return "PromotionApproved"
	case AuthorityTransitioning:
		return "AuthorityTransitioning"
	case PromotionSucceeded:
		return "PromotionSucceeded"
	case PromotionDenied:
		return "PromotionDenied"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// State is the current promotion state. ReplicaID identifies the replica
// under consideration (or, once PromotionSucceeded, the new primary).
// Reason is meaningful only when Kind == PromotionDenied.
type State struct {
	Kind      StateKind
	ReplicaID uuid.UUID
	Reason    DenialReason
}

// Machine is the promotion state machine. Every transition is
// event-driven and deterministic; there are no background or time-based
// transitions (§4.8).
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a machine starting Steady.
func New() *Machine {
	return &Machine{state: State{Kind: Steady}}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// InProgress reports whether a promotion attempt is underway.
func (m *Machine) InProgress() bool {
	return m.Current().Kind != Steady
}

// RequestPromotion: Steady -> PromotionRequested.
func (m *Machine) RequestPromotion(replicaID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != Steady {
		return forbidden(m.state.Kind, PromotionRequested)
	}

	m.state = State{Kind: PromotionRequested, ReplicaID: replicaID}

	return nil
}

// RejectRequest: PromotionRequested -> Steady, for a request rejected
// before validation even begins (e.g. unknown replica id).
func (m *Machine) RejectRequest() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionRequested {
		return forbidden(m.state.Kind, Steady)
	}

	m.state = State{Kind: Steady}

	return nil
}

// BeginValidation: PromotionRequested -> PromotionValidating.
func (m *Machine) BeginValidation() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionRequested {
		return forbidden(m.state.Kind, PromotionValidating)
	}

	m.state.Kind = PromotionValidating

	return nil
}

// ApprovePromotion: PromotionValidating -> PromotionApproved. Approval has
// no durable effect (§4.8 crash semantics).
func (m *Machine) ApprovePromotion() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionValidating {
		return forbidden(m.state.Kind, PromotionApproved)
	}

	m.state.Kind = PromotionApproved

	return nil
}

// DenyPromotion: PromotionValidating -> PromotionDenied{reason}.
func (m *Machine) DenyPromotion(reason DenialReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionValidating {
		return forbidden(m.state.Kind, PromotionDenied)
	}

	m.state = State{Kind: PromotionDenied, ReplicaID: m.state.ReplicaID, Reason: reason}

	return nil
}

// BeginAuthorityTransition: PromotionApproved -> AuthorityTransitioning.
// Crash semantics: atomic outcome enforced — either the durable marker
// lands and the replica becomes the new primary, or it doesn't and
// authority never moved.
func (m *Machine) BeginAuthorityTransition() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionApproved {
		return forbidden(m.state.Kind, AuthorityTransitioning)
	}

	m.state.Kind = AuthorityTransitioning

	return nil
}

// CompleteTransition: AuthorityTransitioning -> PromotionSucceeded.
func (m *Machine) CompleteTransition() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != AuthorityTransitioning {
		return forbidden(m.state.Kind, PromotionSucceeded)
	}

	m.state.Kind = PromotionSucceeded

	return nil
}

// AcknowledgeSuccess: PromotionSucceeded -> Steady.
func (m *Machine) AcknowledgeSuccess() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionSucceeded {
		return forbidden(m.state.Kind, Steady)
	}

	m.state = State{Kind: Steady}

	return nil
}

// AcknowledgeDenial: PromotionDenied -> Steady.
func (m *Machine) AcknowledgeDenial() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != PromotionDenied {
		return forbidden(m.state.Kind, Steady)
	}

	m.state = State{Kind: Steady}

	return nil
}

// RecoverAfterCrash reconstructs promotion state deterministically after a
// restart (§4.8 "Crash recovery"). Every transient state is forgotten;
// only an atomically-completed authority transition survives. markerPresent
// reports whether the durable authority marker was found on disk, and
// newPrimaryID is the id it names when present.
func RecoverAfterCrash(markerPresent bool, newPrimaryID uuid.UUID) State {
	if markerPresent {
		return State{Kind: PromotionSucceeded, ReplicaID: newPrimaryID}
	}

	return State{Kind: Steady}
}

func forbidden(from, to StateKind) error {
	return aeroerr.New(aeroerr.CodePromotionForbidden,
		fmt.Errorf("forbidden transition: %s -> %s", from, to),
		aeroerr.WithComponent("failover"))
}
