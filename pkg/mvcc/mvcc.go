// Package mvcc is the Commit Authority (§4.2): it assigns totally-ordered
// commit identities, recovered from WAL replay, and hands out immutable
// read views.
//
// The commit ordering discipline — WAL → reserve → write → fsync → mark
// committed — follows the same shape as other mddb-style transaction
// commit paths.
package mvcc

import (
	"fmt"
	"sync"

	"github.com/aerodb/aerodb/internal/aeroerr"
)

// CommitID is an opaque totally-ordered scalar. Zero means "none".
type CommitID uint64

// None is the reserved "no commit identity" value.
const None CommitID = 0

// ReadView is a frozen commit-identity upper bound established at read
// start (§3). A version V is visible under R iff V.CommitID <= R.Bound().
type ReadView struct {
	upperBound CommitID
}

// Bound returns the frozen upper bound.
func (r ReadView) Bound() CommitID { return r.upperBound }

// Visible reports whether a version with the given commit id is visible
// under this read view.
func (r ReadView) Visible(commitID CommitID) bool {
	return commitID != None && commitID <= r.upperBound
}

// NewReadView constructs a view frozen at bound, exposed for replication's
// replica-side boundary tracking and tests.
func NewReadView(bound CommitID) ReadView { return ReadView{upperBound: bound} }

// Authority tracks highest_commit_id and reserves/commits new ids. The
// assignment discipline (§4.2) is: WAL -> reserve -> write MvccCommit(id) ->
// fsync -> MarkCommitted(id). If the process crashes before fsync, the
// reserved id never becomes durable and MarkCommitted is simply never
// called for it. Recovery reasserts the authority at the highest durable
// commit (§4.9), so the first NextCommitID after restart hands out that same
// undurable id again; an id that became durable is never handed out twice.
type Authority struct {
	mu       sync.Mutex
	highest  CommitID
	reserved CommitID
}

// New returns an authority with no commits yet assigned.
func New() *Authority {
	return &Authority{}
}

// NextCommitID reserves and returns the next candidate commit id. The
// caller must write it to WAL, fsync, and call MarkCommitted before any
// reader may observe it.
func (a *Authority) NextCommitID() CommitID {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reserved <= a.highest {
		a.reserved = a.highest
	}

	a.reserved++

	return a.reserved
}

// MarkCommitted durably advances highest_commit_id after a live write's WAL
// fsync has returned. Requires id == highest+1 (OutOfOrder otherwise).
func (a *Authority) MarkCommitted(id CommitID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id != a.highest+1 {
		return aeroerr.New(aeroerr.CodeMVCCOutOfOrder,
			fmt.Errorf("out-of-order commit: attempted %d expected %d", id, a.highest+1),
			aeroerr.WithComponent("mvcc"))
	}

	a.highest = id

	if a.reserved < id {
		a.reserved = id
	}

	return nil
}

// ObserveReplayedCommit advances highest_commit_id during WAL replay.
// Gaps are allowed (snapshot boundaries may skip forward) but the sequence
// must be strictly increasing.
func (a *Authority) ObserveReplayedCommit(id CommitID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id <= a.highest {
		return aeroerr.New(aeroerr.CodeMVCCNonMonotonic,
			fmt.Errorf("non-monotonic replay: observed %d highest %d", id, a.highest),
			aeroerr.WithComponent("mvcc"))
	}

	a.highest = id
	a.reserved = id

	return nil
}

// Reassert sets highest_commit_id directly, used by recovery (§4.9 step 5)
// to reassert authority at highest_durable_commit once replay has run.
func (a *Authority) Reassert(highest CommitID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.highest = highest
	a.reserved = highest
}

// HighestCommitID returns the highest durably committed id.
func (a *Authority) HighestCommitID() CommitID {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.highest
}

// CurrentSnapshot returns a ReadView frozen at the current highest commit.
func (a *Authority) CurrentSnapshot() ReadView {
	a.mu.Lock()
	defer a.mu.Unlock()

	return ReadView{upperBound: a.highest}
}
