package failover_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/failover"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/replication"
)

func TestStateMachineFullHappyPath(t *testing.T) {
	m := failover.New()
	require.Equal(t, failover.Steady, m.Current().Kind)

	replicaID := uuid.New()
	require.NoError(t, m.RequestPromotion(replicaID))
	require.NoError(t, m.BeginValidation())
	require.NoError(t, m.ApprovePromotion())
	require.NoError(t, m.BeginAuthorityTransition())
	require.NoError(t, m.CompleteTransition())
	require.Equal(t, failover.PromotionSucceeded, m.Current().Kind)

	require.NoError(t, m.AcknowledgeSuccess())
	require.Equal(t, failover.Steady, m.Current().Kind)
}

func TestStateMachineDenialPath(t *testing.T) {
	m := failover.New()
	replicaID := uuid.New()

	require.NoError(t, m.RequestPromotion(replicaID))
	require.NoError(t, m.BeginValidation())
	require.NoError(t, m.DenyPromotion(failover.PrimaryStillActive))
	require.Equal(t, failover.PromotionDenied, m.Current().Kind)
	require.Equal(t, failover.PrimaryStillActive, m.Current().Reason)

	require.NoError(t, m.AcknowledgeDenial())
	require.Equal(t, failover.Steady, m.Current().Kind)
}

func TestStateMachineRejectsOutOfOrderTransitions(t *testing.T) {
	m := failover.New()

	require.Error(t, m.BeginValidation(), "cannot validate before a request exists")
	require.Error(t, m.ApprovePromotion())
	require.Error(t, m.CompleteTransition())
}

func TestValidateDeniesWhenPrimaryStillActive(t *testing.T) {
	result := failover.Validate(failover.ValidationContext{
		ReplicationEnabled: true,
		ReplicaState:       replication.State{Kind: replication.ReplicaActive},
		PrimaryUnavailable: false,
		Force:              false,
	})

	require.False(t, result.Allowed)
	require.Equal(t, failover.PrimaryStillActive, result.Reason)
}

func TestValidateDeniesWhenReplicaBehind(t *testing.T) {
	primary := replication.Position{Sequence: 100}

	result := failover.Validate(failover.ValidationContext{
		ReplicationEnabled:       true,
		ReplicaState:             replication.State{Kind: replication.ReplicaActive},
		ReplicaWALPosition:       replication.Position{Sequence: 50},
		PrimaryCommittedPosition: &primary,
		PrimaryUnavailable:       true,
	})

	require.False(t, result.Allowed)
	require.Equal(t, failover.ReplicaBehindWal, result.Reason)
}

func TestValidateAllowsWhenCaughtUpAndPrimaryUnavailable(t *testing.T) {
	primary := replication.Position{Sequence: 100}

	result := failover.Validate(failover.ValidationContext{
		ReplicationEnabled:       true,
		ReplicaState:             replication.State{Kind: replication.ReplicaActive},
		ReplicaWALPosition:       replication.Position{Sequence: 100},
		PrimaryCommittedPosition: &primary,
		PrimaryUnavailable:       true,
	})

	require.True(t, result.Allowed)
}

func TestValidateDeniesWhenReplicationDisabled(t *testing.T) {
	result := failover.Validate(failover.ValidationContext{ReplicationEnabled: false})

	require.False(t, result.Allowed)
	require.Equal(t, failover.ReplicationDisabled, result.Reason)
}

func TestDurableMarkerRoundTrip(t *testing.T) {
	fsys := fs.NewReal()
	dataDir := t.TempDir()

	marker := failover.NewDurableMarker(fsys, dataDir)

	_, present, err := marker.Read()
	require.NoError(t, err)
	require.False(t, present)

	replicaID := uuid.New()
	require.NoError(t, marker.WriteAtomic(failover.NewAuthorityMarker(replicaID, "Replica")))

	got, present, err := marker.Read()
	require.NoError(t, err)
	require.True(t, present)

	gotID, err := got.PrimaryID()
	require.NoError(t, err)
	require.Equal(t, replicaID, gotID)
}

func TestDurableMarkerWriteAtomicSurvivesSimulatedCrash(t *testing.T) {
	dataDir := t.TempDir()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	marker := failover.NewDurableMarker(crash, dataDir)

	replicaID := uuid.New()
	require.NoError(t, marker.WriteAtomic(failover.NewAuthorityMarker(replicaID, "Replica")))

	require.NoError(t, crash.SimulateCrash())

	got, present, err := failover.NewDurableMarker(crash, dataDir).Read()
	require.NoError(t, err)
	require.True(t, present)

	gotID, err := got.PrimaryID()
	require.NoError(t, err)
	require.Equal(t, replicaID, gotID)
}

func TestDurableMarkerWriteAtomicReplacesMarkerDurablyAcrossCrash(t *testing.T) {
	dataDir := t.TempDir()

	crash, err := fs.NewCrash(t, fs.NewReal(), &fs.CrashConfig{})
	require.NoError(t, err)

	marker := failover.NewDurableMarker(crash, dataDir)

	firstID := uuid.New()
	require.NoError(t, marker.WriteAtomic(failover.NewAuthorityMarker(firstID, "Replica")))
	require.NoError(t, crash.SimulateCrash())

	// A second WriteAtomic that completes before the crash replaces the
	// first marker durably: after restart the new authority is read back
	// whole, not the old one and not a torn file.
	secondID := uuid.New()
	require.NoError(t, marker.WriteAtomic(failover.NewAuthorityMarker(secondID, "Replica")))
	require.NoError(t, crash.SimulateCrash())

	got, present, err := failover.NewDurableMarker(crash, dataDir).Read()
	require.NoError(t, err)
	require.True(t, present)

	gotID, err := got.PrimaryID()
	require.NoError(t, err)
	require.Equal(t, secondID, gotID)
}

func TestControllerFullPromotionFlow(t *testing.T) {
	fsys := fs.NewReal()
	marker := failover.NewDurableMarker(fsys, t.TempDir())

	c := failover.NewController(marker, failover.NoopSink)
	replicaID := uuid.New()

	require.NoError(t, c.RequestPromotion(replicaID))

	primary := replication.Position{Sequence: 10}
	explanation, err := c.Validate(failover.ValidationContext{
		ReplicationEnabled:       true,
		ReplicaState:             replication.State{Kind: replication.ReplicaActive},
		ReplicaWALPosition:       replication.Position{Sequence: 10},
		PrimaryCommittedPosition: &primary,
		PrimaryUnavailable:       true,
	})
	require.NoError(t, err)
	require.True(t, explanation.Result.Allowed)
	require.Equal(t, failover.PromotionApproved, c.State().Kind)

	token, release := execlock.Acquire()

	newPrimary, err := c.CompletePromotion(token, replication.RoleReplica)
	release()
	require.NoError(t, err)
	require.Equal(t, replicaID, newPrimary)
	require.Equal(t, failover.PromotionSucceeded, c.State().Kind)

	_, present, err := marker.Read()
	require.NoError(t, err)
	require.True(t, present)
}

func TestControllerRejectsSecondRequestWhileInProgress(t *testing.T) {
	fsys := fs.NewReal()
	marker := failover.NewDurableMarker(fsys, t.TempDir())
	c := failover.NewController(marker, failover.NoopSink)

	require.NoError(t, c.RequestPromotion(uuid.New()))
	require.Error(t, c.RequestPromotion(uuid.New()))
}

func TestRecoverAfterCrashForgetsTransientState(t *testing.T) {
	fsys := fs.NewReal()
	dataDir := t.TempDir()
	marker := failover.NewDurableMarker(fsys, dataDir)

	c, err := failover.Recover(marker, failover.NoopSink)
	require.NoError(t, err)
	require.Equal(t, failover.Steady, c.State().Kind)
}

func TestRecoverAfterCrashPreservesCompletedTransition(t *testing.T) {
	fsys := fs.NewReal()
	dataDir := t.TempDir()
	marker := failover.NewDurableMarker(fsys, dataDir)

	replicaID := uuid.New()
	require.NoError(t, marker.WriteAtomic(failover.NewAuthorityMarker(replicaID, "Replica")))

	c, err := failover.Recover(marker, failover.NoopSink)
	require.NoError(t, err)
	require.Equal(t, failover.PromotionSucceeded, c.State().Kind)
	require.Equal(t, replicaID, c.State().ReplicaID)
}
