package operator

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/aerodb/aerodb/internal/config"
	"github.com/aerodb/aerodb/pkg/checkpoint"
	"github.com/aerodb/aerodb/pkg/failover"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/snapshot"
)

// StatusCmd reports everything that can be determined about a data
// directory by inspecting on-disk state alone: configuration, the latest
// snapshot, the checkpoint marker and the authority marker. It never opens
// the WAL for writing and never acquires the execution lock — status is
// read-only.
func StatusCmd() *Command {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	dataDir := flags.String("data-dir", "", "Data directory (required)")

	return &Command{
		Flags: flags,
		Usage: "status --data-dir <dir>",
		Short: "Report configuration and durable state of a data directory",
		Exec: func(o *IO, _ []string) error {
			if *dataDir == "" {
				return fmt.Errorf("status: --data-dir is required")
			}

			return runStatus(o, *dataDir)
		},
	}
}

func runStatus(o *IO, dataDir string) error {
	fsys := fs.NewReal()

	cfg, err := config.Load(dataDir, nil)
	if err != nil {
		return err
	}

	cfgText, err := config.Format(cfg)
	if err != nil {
		return err
	}

	o.Println("configuration:")
	o.Println(cfgText)

	snapDir, manifest, found, err := snapshot.FindLatest(fsys, dataDir)
	if err != nil {
		return err
	}

	if found {
		o.Println("latest snapshot:", manifest.SnapshotID, "at", snapDir)
		o.Println("  storage checksum:", manifest.StorageChecksum)
		o.Println("  format version:", manifest.FormatVersion)

		if manifest.CommitBoundary != nil {
			o.Println("  commit boundary:", *manifest.CommitBoundary)
		}
	} else {
		o.Println("latest snapshot: none")
	}

	marker, present, err := checkpoint.ReadMarker(fsys, dataDir)
	if err != nil {
		return err
	}

	if present {
		o.Println("checkpoint marker:", marker.SnapshotID, "wal_truncated:", marker.WALTruncated)
	} else {
		o.Println("checkpoint marker: none")
	}

	authMarker := failover.NewDurableMarker(fsys, dataDir)

	am, present, err := authMarker.Read()
	if err != nil {
		return err
	}

	if present {
		o.Println("authority marker: present, new primary", am.NewPrimaryID, "previous state", am.PreviousState)
	} else {
		o.Println("authority marker: absent (no promotion has occurred)")
	}

	return nil
}
