package failover

import (
	"github.com/aerodb/aerodb/pkg/replication"
)

// ValidationResult is the deterministic, side-effect-free outcome of
// validating one promotion request (§4.8).
type ValidationResult struct {
	Allowed bool
	Reason  DenialReason
}

// Explain renders a human-readable justification, satisfying the
// requirement that every promotion decision be explainable.
func (v ValidationResult) Explain() string {
	if v.Allowed {
		return "promotion allowed: all promotion invariants satisfied"
	}

	return "promotion denied: " + v.Reason.String() + " (invariant " + v.Reason.InvariantReference() + ")"
}

// ValidationContext is the input to Validate: everything the validator
// needs to decide, and nothing it is allowed to mutate.
type ValidationContext struct {
	ReplicationEnabled       bool
	ReplicaState             replication.State
	ReplicaWALPosition       replication.Position
	PrimaryCommittedPosition *replication.Position
	PrimaryUnavailable       bool
	Force                    bool
}

// Validate evaluates a promotion request. It is deterministic and
// side-effect free: the same ValidationContext always yields the same
// ValidationResult (§4.8).
//
// Checks run in order:
//  1. Replica must be in ReplicaActive state (or its halt reason must map
//     to an explicit denial).
//  2. Primary authority must be clear (primary unavailable, or force set).
//  3. Replica WAL must not be behind the primary's last committed position.
func Validate(ctx ValidationContext) ValidationResult {
	if !ctx.ReplicationEnabled {
		return ValidationResult{Reason: ReplicationDisabled}
	}

	switch ctx.ReplicaState.Kind {
	case replication.Uninitialized:
		return ValidationResult{Reason: ReplicaNotActive}
	case replication.PrimaryActive:
		return ValidationResult{Reason: InvalidRequest}
	case replication.Halted:
		return ValidationResult{Reason: denialFromHalt(ctx.ReplicaState.Reason)}
	case replication.ReplicaActive:
		// valid state, continue validation
	}

	if !ctx.PrimaryUnavailable && !ctx.Force {
		return ValidationResult{Reason: PrimaryStillActive}
	}

	if ctx.PrimaryCommittedPosition != nil &&
		ctx.ReplicaWALPosition.Sequence < ctx.PrimaryCommittedPosition.Sequence {
		return ValidationResult{Reason: ReplicaBehindWal}
	}

	return ValidationResult{Allowed: true}
}

func denialFromHalt(reason replication.HaltReason) DenialReason {
	switch reason {
	case replication.WalGapDetected:
		return InvalidReplicationState
	case replication.HistoryDivergence:
		return InvalidReplicationState
	case replication.AuthorityAmbiguity:
		return AuthorityAmbiguous
	case replication.WalCorruption:
		return InvalidReplicationState
	case replication.SnapshotIntegrityFailure:
		return InvalidReplicationState
	case replication.ConfigurationError:
		return InvalidReplicationState
	default:
		return InvalidReplicationState
	}
}
