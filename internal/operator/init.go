package operator

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/internal/config"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/wal"
)

// InitCmd lays out a fresh data directory: storage.dat, metadata/schemas,
// an empty WAL, and default configuration toggles.
func InitCmd() *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	dataDir := flags.String("data-dir", "", "Data directory to initialize (required)")

	return &Command{
		Flags: flags,
		Usage: "init --data-dir <dir>",
		Short: "Initialize a fresh aerodb data directory",
		Exec: func(o *IO, _ []string) error {
			if *dataDir == "" {
				return fmt.Errorf("init: --data-dir is required")
			}

			return runInit(o, *dataDir)
		},
	}
}

func runInit(o *IO, dataDir string) error {
	fsys := fs.NewReal()
	l := newLayout(dataDir)

	if err := fsys.MkdirAll(l.schemaDir, 0o755); err != nil {
		return aeroerr.New(aeroerr.CodeConfigInvalid, err, aeroerr.WithComponent("operator"))
	}

	exists, err := fsys.Exists(l.storagePath)
	if err != nil {
		return aeroerr.New(aeroerr.CodeConfigInvalid, err, aeroerr.WithComponent("operator"))
	}

	if !exists {
		if err := fsys.WriteFile(l.storagePath, nil, 0o644); err != nil {
			return aeroerr.New(aeroerr.CodeConfigInvalid, err, aeroerr.WithComponent("operator"))
		}
	}

	w, err := wal.Open(fsys, dataDir, config.Default().GroupCommit)
	if err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	o.Println("initialized", dataDir)

	return nil
}
