package failover

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/pkg/fs"
)

const markerFileName = "authority_transition.marker"

// AuthorityMarker is the sole durability mechanism for authority state
// (§4.8): present names the new primary, absent means the old authority
// still holds. There is no third state.
type AuthorityMarker struct {
	NewPrimaryID  string `json:"new_primary_id"`
	TimestampUnix int64  `json:"timestamp_unix"`
	PreviousState string `json:"previous_state"`
}

// NewAuthorityMarker builds a marker recording newPrimaryID as the
// promoted replica and previousState for the audit trail.
func NewAuthorityMarker(newPrimaryID uuid.UUID, previousState string) AuthorityMarker {
	return AuthorityMarker{
		NewPrimaryID:  newPrimaryID.String(),
		TimestampUnix: time.Now().Unix(),
		PreviousState: previousState,
	}
}

// PrimaryID parses NewPrimaryID back into a uuid.UUID.
func (m AuthorityMarker) PrimaryID() (uuid.UUID, error) {
	return uuid.Parse(m.NewPrimaryID)
}

// DurableMarker manages the on-disk marker file at
// <data_dir>/metadata/authority_transition.marker.
type DurableMarker struct {
	fsys       fs.FS
	metaDir    string
	markerPath string
}

// NewDurableMarker returns a marker manager rooted at dataDir.
func NewDurableMarker(fsys fs.FS, dataDir string) *DurableMarker {
	metaDir := filepath.Join(dataDir, "metadata")

	return &DurableMarker{
		fsys:       fsys,
		metaDir:    metaDir,
		markerPath: filepath.Join(metaDir, markerFileName),
	}
}

// WriteAtomic durably installs marker as the new authority state (§P6-A2):
// write-temp, fsync-temp, rename-over-final and a separate fsync of the
// containing directory (so the rename itself survives a crash) all go
// through fs.AtomicWriter against d.fsys, the same filesystem abstraction
// every other durable write in this core uses — which is what lets a test
// drive fs.Chaos/fs.Crash through this exact write path. After this
// returns nil, the new authority is authoritative. An error from any step
// before the rename leaves the old authority in place; the rename is the
// point of no return, so an error from the final directory fsync
// (fs.ErrAtomicWriteDirSync) means the new marker is already in place but
// its durability is not guaranteed. The marker file is never left torn.
func (d *DurableMarker) WriteAtomic(marker AuthorityMarker) error {
	if err := d.fsys.MkdirAll(d.metaDir, 0o755); err != nil {
		return aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
	}

	content, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
	}

	writer := fs.NewAtomicWriter(d.fsys)

	if err := writer.Write(d.markerPath, bytes.NewReader(content), writer.DefaultOptions()); err != nil {
		return aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
	}

	return nil
}

// Read returns the marker and true if present, or false if the old
// authority still holds (no marker written yet, or never promoted).
func (d *DurableMarker) Read() (AuthorityMarker, bool, error) {
	exists, err := d.fsys.Exists(d.markerPath)
	if err != nil {
		return AuthorityMarker{}, false, aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
	}

	if !exists {
		return AuthorityMarker{}, false, nil
	}

	data, err := d.fsys.ReadFile(d.markerPath)
	if err != nil {
		return AuthorityMarker{}, false, aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
	}

	var m AuthorityMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return AuthorityMarker{}, false, aeroerr.New(aeroerr.CodePromotionMarkerFailed, err, aeroerr.WithComponent("failover"))
	}

	return m, true, nil
}
