package checkpoint

import (
	"bytes"
	"encoding/json"
	"path/filepath"

	"github.com/aerodb/aerodb/pkg/fs"
)

// Marker is the checkpoint marker (§3) at <data_dir>/checkpoint.json.
type Marker struct {
	SnapshotID    string `json:"snapshot_id"`
	CreatedAt     string `json:"created_at"`
	WALTruncated  bool   `json:"wal_truncated"`
	FormatVersion int    `json:"format_version"`
}

const markerFileName = "checkpoint.json"

func markerPath(dataDir string) string {
	return filepath.Join(dataDir, markerFileName)
}

// writeMarker rewrites checkpoint.json via fs.AtomicWriter (write-temp,
// fsync-temp, rename-over, fsync-dir). The protocol's crash-safety comes
// from rewriting this file twice in sequence relative to WAL truncation
// (§4.5), not from the individual rewrite being atomic — but each
// individual rewrite is still made atomic so a crash mid-write can never
// leave checkpoint.json holding a torn, unparsable JSON body.
func writeMarker(fsys fs.FS, dataDir string, m Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	writer := fs.NewAtomicWriter(fsys)

	return writer.Write(markerPath(dataDir), bytes.NewReader(data), writer.DefaultOptions())
}

// ReadMarker reads checkpoint.json, returning (Marker{}, false, nil) if
// absent.
func ReadMarker(fsys fs.FS, dataDir string) (Marker, bool, error) {
	exists, err := fsys.Exists(markerPath(dataDir))
	if err != nil || !exists {
		return Marker{}, false, err
	}

	data, err := fsys.ReadFile(markerPath(dataDir))
	if err != nil {
		return Marker{}, false, err
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Marker{}, false, err
	}

	return m, true, nil
}
