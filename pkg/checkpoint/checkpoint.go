// Package checkpoint is the Checkpoint Coordinator (§4.5): the only
// subsystem that truncates WAL, in the strict order fsync WAL -> snapshot
// -> durable marker -> truncate WAL -> durable marker.

package checkpoint

import (
	"time"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/internal/crashpoint"
	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/snapshot"
)

// WAL is the subset of *wal.Writer the coordinator needs.
type WAL interface {
	Fsync() error
	Truncate() error
}

// Coordinator creates checkpoints.
type Coordinator struct {
	fsys     fs.FS
	snapshot *snapshot.Engine
}

// New returns a coordinator bound to fsys, using engine for the snapshot
// step.
func New(fsys fs.FS, engine *snapshot.Engine) *Coordinator {
	return &Coordinator{fsys: fsys, snapshot: engine}
}

// Create runs the exact protocol in §4.5, returning the checkpoint id
// (== snapshot id). The caller must hold the global execution lock.
func (c *Coordinator) Create(
	token *execlock.Token,
	dataDir, storagePath, schemaDir string,
	w WAL,
	opts snapshot.Options,
) (string, error) {
	crashpoint.Hit(crashpoint.CheckpointStart)

	if err := w.Fsync(); err != nil {
		return "", aeroerr.New(aeroerr.CodeCheckpointFailed, err, aeroerr.WithComponent("checkpoint"))
	}

	manifest, err := c.snapshot.Create(token, dataDir, storagePath, schemaDir, w, opts)
	if err != nil {
		return "", aeroerr.New(aeroerr.CodeCheckpointFailed, err, aeroerr.WithComponent("checkpoint"))
	}

	crashpoint.Hit(crashpoint.CheckpointAfterSnapshot)

	marker := Marker{
		SnapshotID:    manifest.SnapshotID,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		WALTruncated:  false,
		FormatVersion: 1,
	}

	if err := writeMarker(c.fsys, dataDir, marker); err != nil {
		return "", aeroerr.New(aeroerr.CodeCheckpointMarkerFailed, err, aeroerr.WithComponent("checkpoint"))
	}

	crashpoint.Hit(crashpoint.CheckpointBeforeWALTruncate)

	if err := w.Truncate(); err != nil {
		return "", aeroerr.New(aeroerr.CodeCheckpointWALTruncate, err, aeroerr.WithComponent("checkpoint"))
	}

	crashpoint.Hit(crashpoint.CheckpointAfterWALTruncate)

	marker.WALTruncated = true

	if err := writeMarker(c.fsys, dataDir, marker); err != nil {
		return "", aeroerr.New(aeroerr.CodeCheckpointMarkerFailed, err, aeroerr.WithComponent("checkpoint"))
	}

	return manifest.SnapshotID, nil
}
