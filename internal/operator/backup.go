package operator

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/aerodb/aerodb/internal/config"
	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/backup"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/wal"
)

// BackupCmd packages the latest snapshot plus the WAL tail into a tar
// archive (§4.6). Requires a prior checkpoint — there must be at least one
// snapshot on disk.
func BackupCmd() *Command {
	flags := flag.NewFlagSet("backup", flag.ContinueOnError)
	dataDir := flags.String("data-dir", "", "Data directory (required)")
	output := flags.String("output", "", "Output archive path (required)")

	return &Command{
		Flags: flags,
		Usage: "backup --data-dir <dir> --output <path>",
		Short: "Package the latest snapshot and WAL tail into a tar archive",
		Exec: func(o *IO, _ []string) error {
			if *dataDir == "" {
				return fmt.Errorf("backup: --data-dir is required")
			}

			if *output == "" {
				return fmt.Errorf("backup: --output is required")
			}

			return runBackup(o, *dataDir, *output)
		},
	}
}

func runBackup(o *IO, dataDir, output string) error {
	fsys := fs.NewReal()

	w, err := wal.Open(fsys, dataDir, config.Default().GroupCommit)
	if err != nil {
		return err
	}
	defer w.Close()

	token, release := execlock.Acquire()
	defer release()

	id, err := backup.New(fsys).Create(token, dataDir, output, w)
	if err != nil {
		return err
	}

	o.Println("backup", id, "->", output)

	return nil
}
