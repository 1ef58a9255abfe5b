package operator

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/aerodb/aerodb/internal/config"
	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/checkpoint"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/mvcc"
	"github.com/aerodb/aerodb/pkg/snapshot"
	"github.com/aerodb/aerodb/pkg/wal"
)

// CheckpointCmd runs the checkpoint protocol (§4.5) against an existing
// data directory: fsync WAL, snapshot, durable marker, truncate WAL.
func CheckpointCmd() *Command {
	flags := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	dataDir := flags.String("data-dir", "", "Data directory (required)")
	mvccMode := flags.Bool("mvcc", false, "Embed the current commit boundary in the snapshot manifest (format_version=2)")

	return &Command{
		Flags: flags,
		Usage: "checkpoint --data-dir <dir> [--mvcc]",
		Short: "Run a checkpoint: snapshot + WAL truncation",
		Exec: func(o *IO, _ []string) error {
			if *dataDir == "" {
				return fmt.Errorf("checkpoint: --data-dir is required")
			}

			return runCheckpoint(o, *dataDir, *mvccMode)
		},
	}
}

func runCheckpoint(o *IO, dataDir string, mvccMode bool) error {
	fsys := fs.NewReal()
	l := newLayout(dataDir)

	w, err := wal.Open(fsys, dataDir, config.Default().GroupCommit)
	if err != nil {
		return err
	}
	defer w.Close()

	// This CLI invocation has no live node process to hand it the running
	// commit authority, so --mvcc embeds a fresh one (commit_boundary=0). A
	// long-running node embedding this core would pass its own in-memory
	// *mvcc.Authority here instead.
	opts := snapshot.Options{}
	if mvccMode {
		opts.Authority = mvcc.New()
	}

	token, release := execlock.Acquire()
	defer release()

	coordinator := checkpoint.New(fsys, snapshot.New(fsys))

	id, err := coordinator.Create(token, dataDir, l.storagePath, l.schemaDir, w, opts)
	if err != nil {
		return err
	}

	o.Println("checkpoint", id)

	return nil
}
