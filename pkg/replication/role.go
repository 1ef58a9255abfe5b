// Package replication is the Replication subsystem (§4.7): role/state
// machine, WAL shipping with gap detection, replica read admission, and
// snapshot bootstrap.

package replication

import (
	"fmt"
	"sync"

	"github.com/aerodb/aerodb/internal/aeroerr"
)

// Role is externally configured and immutable for the process lifetime;
// authority is never inferred (§4.7).
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

// StateKind is the exhaustive set of replication states (§4.7).
type StateKind int

const (
	Uninitialized StateKind = iota
	PrimaryActive
	ReplicaActive
	Halted
)

func (k StateKind) String() string {
	switch k {
	case Uninitialized:
		return "Uninitialized"
	case PrimaryActive:
		return "PrimaryActive"
	case ReplicaActive:
		return "ReplicaActive"
	case Halted:
		return "ReplicationHalted"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// HaltReason is the exhaustive set of halt causes (see SPEC_FULL.md §C for
// why all six are carried, not just the four named in the base spec).
type HaltReason int

const (
	WalGapDetected HaltReason = iota
	HistoryDivergence
	AuthorityAmbiguity
	WalCorruption
	SnapshotIntegrityFailure
	ConfigurationError
)

func (r HaltReason) String() string {
	switch r {
	case WalGapDetected:
		return "WalGapDetected"
	case HistoryDivergence:
		return "HistoryDivergence"
	case AuthorityAmbiguity:
		return "AuthorityAmbiguity"
	case WalCorruption:
		return "WalCorruption"
	case SnapshotIntegrityFailure:
		return "SnapshotIntegrityFailure"
	case ConfigurationError:
		return "ConfigurationError"
	default:
		return fmt.Sprintf("HaltReason(%d)", int(r))
	}
}

// State is the current replication state; Reason is meaningful only when
// Kind == Halted.
type State struct {
	Kind   StateKind
	Reason HaltReason
}

// Machine is the replication role state machine (§4.7). A node exists in
// exactly one State at a time.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a machine starting Uninitialized.
func New() *Machine {
	return &Machine{state: State{Kind: Uninitialized}}
}

// BecomePrimary transitions to PrimaryActive. Valid from Uninitialized
// (idempotent from PrimaryActive); illegal from ReplicaActive or Halted —
// role changes happen only via the promotion subsystem (§4.7).
func (m *Machine) BecomePrimary() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.Kind {
	case Uninitialized, PrimaryActive:
		m.state = State{Kind: PrimaryActive}

		return nil
	case ReplicaActive:
		return illegalTransition("cannot transition from Replica to Primary without explicit reconfiguration")
	case Halted:
		return haltedErr()
	default:
		return illegalTransition("unknown state")
	}
}

// BecomeReplica transitions to ReplicaActive. Valid from Uninitialized
// (idempotent from ReplicaActive); illegal from PrimaryActive or Halted.
func (m *Machine) BecomeReplica() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.Kind {
	case Uninitialized, ReplicaActive:
		m.state = State{Kind: ReplicaActive}

		return nil
	case PrimaryActive:
		return illegalTransition("cannot transition from Primary to Replica without explicit reconfiguration")
	case Halted:
		return haltedErr()
	default:
		return illegalTransition("unknown state")
	}
}

// Halt transitions to ReplicationHalted{reason} from any state. Once
// halted, no resumption without operator intervention.
func (m *Machine) Halt(reason HaltReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = State{Kind: Halted, Reason: reason}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// CanWrite reports whether this state allows writes: only PrimaryActive.
func (m *Machine) CanWrite() bool {
	return m.Current().Kind == PrimaryActive
}

// CanRead reports whether this state allows reads: Primary or ReplicaActive.
func (m *Machine) CanRead() bool {
	k := m.Current().Kind

	return k == PrimaryActive || k == ReplicaActive
}

// IsHalted reports whether the state is ReplicationHalted.
func (m *Machine) IsHalted() bool {
	return m.Current().Kind == Halted
}

func illegalTransition(msg string) error {
	return aeroerr.New(aeroerr.CodeReplicationRejected, fmt.Errorf("illegal transition: %s", msg),
		aeroerr.WithComponent("replication"))
}

func haltedErr() error {
	return aeroerr.New(aeroerr.CodeReplicationHalted,
		fmt.Errorf("cannot transition from halted state without operator intervention"),
		aeroerr.WithComponent("replication"))
}
