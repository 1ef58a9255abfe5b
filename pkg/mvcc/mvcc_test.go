package mvcc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/pkg/mvcc"
)

func TestAssignmentDiscipline(t *testing.T) {
	a := mvcc.New()

	id := a.NextCommitID()
	require.Equal(t, mvcc.CommitID(1), id)
	require.Equal(t, mvcc.CommitID(0), a.HighestCommitID(), "not visible until marked committed")

	require.NoError(t, a.MarkCommitted(id))
	require.Equal(t, mvcc.CommitID(1), a.HighestCommitID())
}

func TestMarkCommittedOutOfOrderIsFatal(t *testing.T) {
	a := mvcc.New()
	a.NextCommitID()

	err := a.MarkCommitted(5)
	require.Error(t, err)

	var aErr *aeroerr.Error

	require.True(t, errors.As(err, &aErr))
	require.Equal(t, aeroerr.CodeMVCCOutOfOrder, aErr.Code)
	require.Equal(t, aeroerr.SeverityFatal, aErr.Severity)
}

func TestObserveReplayedCommitAllowsGapsButNotNonMonotonic(t *testing.T) {
	a := mvcc.New()

	require.NoError(t, a.ObserveReplayedCommit(5))
	require.NoError(t, a.ObserveReplayedCommit(10)) // gap allowed during replay

	err := a.ObserveReplayedCommit(10)
	require.Error(t, err)

	var aErr *aeroerr.Error

	require.True(t, errors.As(err, &aErr))
	require.Equal(t, aeroerr.CodeMVCCNonMonotonic, aErr.Code)
}

func TestReadViewVisibility(t *testing.T) {
	view := mvcc.NewReadView(10)

	require.True(t, view.Visible(10))
	require.True(t, view.Visible(1))
	require.False(t, view.Visible(11))
	require.False(t, view.Visible(mvcc.None))
}

func TestCrashBeforeFsyncDoesNotConsumeID(t *testing.T) {
	a := mvcc.New()

	id := a.NextCommitID()
	require.Equal(t, mvcc.CommitID(1), id)
	// Simulate crash before fsync: MarkCommitted never called. On restart,
	// a fresh authority with no replayed commits reassigns id 1 next.
	fresh := mvcc.New()
	require.Equal(t, mvcc.CommitID(1), fresh.NextCommitID())
}
