package replication

import (
	"fmt"
	"sync"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/pkg/mvcc"
)

// ReadAdmission evaluates whether a replica may serve a read at the
// requested read view (§4.7 "Replica reads"). All conditions must hold:
// state is ReplicaActive, the WAL receiver is healthy (no gaps), snapshot
// bootstrap is complete, the node is not mid-recovery, and the requested
// upper bound does not exceed the applied commit boundary.
type ReadAdmission struct {
	Machine          *Machine
	Receiver         *Receiver
	BootstrapStage   BootstrapStage
	MidRecovery      bool
	AppliedBoundary  mvcc.CommitID
}

// Admit returns nil if the read is admitted, or a structured error naming
// the failed precondition otherwise. A replica's safe default read view is
// exactly its applied boundary — never beyond.
func (a ReadAdmission) Admit(requested mvcc.CommitID) error {
	if a.Machine.Current().Kind != ReplicaActive {
		return rejectRead("node is not ReplicaActive")
	}

	if !a.Receiver.Healthy() {
		return rejectRead("wal receiver has detected a gap")
	}

	if a.BootstrapStage != BootstrapInstalled {
		return rejectRead("snapshot bootstrap is not complete")
	}

	if a.MidRecovery {
		return rejectRead("node is mid-recovery")
	}

	if requested > a.AppliedBoundary {
		return rejectRead(fmt.Sprintf("requested upper bound %d exceeds applied boundary %d", requested, a.AppliedBoundary))
	}

	return nil
}

// DefaultReadView returns the safe default: exactly the applied boundary.
func (a ReadAdmission) DefaultReadView() mvcc.ReadView {
	return mvcc.NewReadView(a.AppliedBoundary)
}

func rejectRead(reason string) error {
	return aeroerr.New(aeroerr.CodeReplicationRejected, fmt.Errorf("read rejected: %s", reason),
		aeroerr.WithComponent("replication"))
}

// cacheKey is (document_key, snapshot_commit_id), the Replica Read Fast
// Path's cache key (§4.7 optimization).
type cacheKey struct {
	key      string
	commitID mvcc.CommitID
}

// FastReadCache reuses a pre-validated snapshot-scoped visibility cache.
// Entries are immutable; the whole cache is discarded when the owning
// snapshot ends (Invalidate), which satisfies "immutable entries,
// snapshot-scoped, discarded when snapshot ends" (§9 Open Question b)
// without inventing an eviction policy beyond that.
type FastReadCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]any
}

// NewFastReadCache returns an empty cache.
func NewFastReadCache() *FastReadCache {
	return &FastReadCache{entries: make(map[cacheKey]any)}
}

// Get returns the cached value for (key, snapshotCommitID), if present.
func (c *FastReadCache) Get(key string, snapshotCommitID mvcc.CommitID) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[cacheKey{key: key, commitID: snapshotCommitID}]

	return v, ok
}

// Put stores value for (key, snapshotCommitID). Entries are never mutated
// in place; callers always Put a fresh, fully-computed value.
func (c *FastReadCache) Put(key string, snapshotCommitID mvcc.CommitID, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{key: key, commitID: snapshotCommitID}] = value
}

// Invalidate discards every entry, called when the owning snapshot ends.
func (c *FastReadCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]any)
}

// FastReadEligible checks the safety preconditions for using the cache
// instead of baseline traversal (§4.7 optimization). Any failure must fall
// back to baseline.
func FastReadEligible(a ReadAdmission, requested mvcc.CommitID, snapshotImmutable bool) bool {
	if a.Admit(requested) != nil {
		return false
	}

	if requested > a.AppliedBoundary {
		return false
	}

	return snapshotImmutable
}
