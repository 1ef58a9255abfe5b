package replication

import (
	"fmt"
	"sync"

	"github.com/aerodb/aerodb/internal/aeroerr"
)

// BootstrapStage is the snapshot bootstrap staged state machine (§4.7
// "Snapshot bootstrap"): a fresh or rejoining replica installs a base
// snapshot before it can accept WAL shipping or serve reads.
type BootstrapStage int

const (
	BootstrapIdle BootstrapStage = iota
	BootstrapTransferring
	BootstrapTransferComplete
	BootstrapValidated
	BootstrapInstalled
	BootstrapFailed
)

func (s BootstrapStage) String() string {
	switch s {
	case BootstrapIdle:
		return "Idle"
	case BootstrapTransferring:
		return "Transferring"
	case BootstrapTransferComplete:
		return "TransferComplete"
	case BootstrapValidated:
		return "Validated"
	case BootstrapInstalled:
		return "Installed"
	case BootstrapFailed:
		return "Failed"
	default:
		return fmt.Sprintf("BootstrapStage(%d)", int(s))
	}
}

// Bootstrap drives a replica's one-shot snapshot install. Transitions are
// strictly forward (Idle -> Transferring -> TransferComplete -> Validated
// -> Installed), or to Failed from any non-terminal stage. Install only
// happens from Validated, so a validation failure can never half-apply a
// snapshot onto local storage.
type Bootstrap struct {
	mu            sync.Mutex
	stage         BootstrapStage
	snapshotID    string
	baseCommit    uint64
}

// NewBootstrap returns a bootstrap state machine starting Idle.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{stage: BootstrapIdle}
}

// Stage returns the current stage.
func (b *Bootstrap) Stage() BootstrapStage {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stage
}

// BeginTransfer moves Idle -> Transferring for the named snapshot.
func (b *Bootstrap) BeginTransfer(snapshotID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stage != BootstrapIdle {
		return bootstrapOrderErr(b.stage, BootstrapTransferring)
	}

	b.stage = BootstrapTransferring
	b.snapshotID = snapshotID

	return nil
}

// CompleteTransfer moves Transferring -> TransferComplete, meaning every
// byte of the snapshot has landed on local disk (but is not yet verified).
func (b *Bootstrap) CompleteTransfer() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stage != BootstrapTransferring {
		return bootstrapOrderErr(b.stage, BootstrapTransferComplete)
	}

	b.stage = BootstrapTransferComplete

	return nil
}

// Validate moves TransferComplete -> Validated once checksum verification
// of the transferred snapshot has passed.
func (b *Bootstrap) Validate(baseCommit uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stage != BootstrapTransferComplete {
		return bootstrapOrderErr(b.stage, BootstrapValidated)
	}

	b.stage = BootstrapValidated
	b.baseCommit = baseCommit

	return nil
}

// Install moves Validated -> Installed: the local storage layer now
// reflects the transferred snapshot and WAL shipping may begin from
// baseCommit+1. Install is all-or-nothing; callers that fail partway must
// call Fail instead of leaving the stage at Validated.
func (b *Bootstrap) Install() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stage != BootstrapValidated {
		return bootstrapOrderErr(b.stage, BootstrapInstalled)
	}

	b.stage = BootstrapInstalled

	return nil
}

// Fail moves to Failed from any non-terminal stage, e.g. on checksum
// mismatch or truncated transfer. On an Installed bootstrap it does nothing.
func (b *Bootstrap) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stage == BootstrapInstalled {
		return
	}

	b.stage = BootstrapFailed
}

// BaseCommit returns the commit boundary the installed snapshot represents.
// Valid only once Installed.
func (b *Bootstrap) BaseCommit() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.baseCommit
}

// SnapshotID returns the id of the snapshot being (or having been)
// transferred.
func (b *Bootstrap) SnapshotID() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.snapshotID
}

func bootstrapOrderErr(from, to BootstrapStage) error {
	return aeroerr.New(aeroerr.CodeReplicationRejected,
		fmt.Errorf("bootstrap: cannot move %s -> %s out of order", from, to),
		aeroerr.WithComponent("replication"))
}
