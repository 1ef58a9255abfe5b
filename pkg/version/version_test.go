package version_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aerodb/aerodb/pkg/version"
)

func TestValidateCleanState(t *testing.T) {
	exp := version.NewExpectations()
	exp.ObserveCommit(1)
	exp.ObserveVersion(1, "doc/a")

	violations := version.Validate(exp, []version.StoredVersion{{CommitID: 1, Key: "doc/a"}})
	require.Empty(t, violations)
}

func TestMissingVersion(t *testing.T) {
	exp := version.NewExpectations()
	exp.ObserveCommit(1)
	exp.ObserveVersion(1, "doc/a")

	violations := version.Validate(exp, nil)
	require.Len(t, violations, 1)
	require.Equal(t, version.MissingVersion, violations[0].Kind)
}

func TestOrphanVersion(t *testing.T) {
	exp := version.NewExpectations()

	violations := version.Validate(exp, []version.StoredVersion{{CommitID: 9, Key: "doc/a"}})
	require.Len(t, violations, 1)
	require.Equal(t, version.OrphanVersion, violations[0].Kind)
}

func TestCommitMismatch(t *testing.T) {
	exp := version.NewExpectations()
	exp.ObserveVersion(5, "doc/a") // no ObserveCommit(5)

	violations := version.Validate(exp, nil)
	require.Len(t, violations, 1)
	require.Equal(t, version.CommitMismatch, violations[0].Kind)
}

func TestPartialWrite(t *testing.T) {
	exp := version.NewExpectations()
	exp.ObserveCommit(1)
	exp.ObserveVersion(1, "doc/a")
	exp.ObserveVersion(1, "doc/b")

	violations := version.Validate(exp, []version.StoredVersion{{CommitID: 1, Key: "doc/a"}})
	require.Len(t, violations, 1)
	require.Equal(t, version.PartialWrite, violations[0].Kind)
}
