package operator

import (
	"fmt"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/failover"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/replication"
)

// PromoteCmd runs one operator-triggered promotion attempt (§4.8) against a
// replica's data directory. There is no automatic failover anywhere in the
// core — every promotion is this explicit call.
func PromoteCmd() *Command {
	flags := flag.NewFlagSet("promote", flag.ContinueOnError)
	dataDir := flags.String("data-dir", "", "Replica data directory (required)")
	replicaID := flags.String("replica-id", "", "UUID of the replica being promoted (required)")
	replicaWALSeq := flags.Uint64("replica-wal-seq", 0, "Replica's last applied WAL sequence")
	primaryWALSeq := flags.Uint64("primary-wal-seq", 0, "Primary's last committed WAL sequence, if known")
	primaryKnown := flags.Bool("primary-wal-seq-known", false, "Set if --primary-wal-seq reflects a real observation")
	primaryUnavailable := flags.Bool("primary-unavailable", false, "Assert that the primary is unreachable")
	force := flags.Bool("force", false, "Override the primary-still-active check")
	halted := flags.Bool("halted", false, "Assert the replica's replication state machine is currently halted")

	return &Command{
		Flags: flags,
		Usage: "promote --data-dir <dir> --replica-id <uuid> [--primary-unavailable] [--force]",
		Short: "Promote a replica to primary authority",
		Exec: func(o *IO, _ []string) error {
			if *dataDir == "" {
				return fmt.Errorf("promote: --data-dir is required")
			}

			id, err := uuid.Parse(*replicaID)
			if err != nil {
				return fmt.Errorf("promote: --replica-id: %w", err)
			}

			var primaryPos *replication.Position
			if *primaryKnown {
				p := replication.Position{Sequence: *primaryWALSeq}
				primaryPos = &p
			}

			replicaKind := replication.ReplicaActive
			if *halted {
				replicaKind = replication.Halted
			}

			ctx := failover.ValidationContext{
				ReplicationEnabled:       true,
				ReplicaState:             replication.State{Kind: replicaKind},
				ReplicaWALPosition:       replication.Position{Sequence: *replicaWALSeq},
				PrimaryCommittedPosition: primaryPos,
				PrimaryUnavailable:       *primaryUnavailable,
				Force:                    *force,
			}

			return runPromote(o, *dataDir, id, ctx)
		},
	}
}

func runPromote(o *IO, dataDir string, replicaID uuid.UUID, ctx failover.ValidationContext) error {
	fsys := fs.NewReal()
	marker := failover.NewDurableMarker(fsys, dataDir)

	controller, err := failover.Recover(marker, failover.NoopSink)
	if err != nil {
		return err
	}

	if err := controller.RequestPromotion(replicaID); err != nil {
		return err
	}

	explanation, err := controller.Validate(ctx)
	if err != nil {
		return err
	}

	o.Println(explanation.String())

	if !explanation.Result.Allowed {
		return controller.AcknowledgeDenial()
	}

	token, release := execlock.Acquire()
	defer release()

	newPrimary, err := controller.CompletePromotion(token, replication.RoleReplica)
	if err != nil {
		return err
	}

	o.Println("promoted", newPrimary, "to primary authority")

	return controller.AcknowledgeSuccess()
}
