package snapshot

// Manifest is the single authoritative snapshot descriptor (§3). Its
// absence means the snapshot does not exist; "find latest snapshot" scans
// must ignore any snapshot directory lacking one.
type Manifest struct {
	SnapshotID      string            `json:"snapshot_id"`
	CreatedAt       string            `json:"created_at"`
	StorageChecksum string            `json:"storage_checksum"`
	SchemaChecksums map[string]string `json:"schema_checksums"`
	FormatVersion   int               `json:"format_version"`
	CommitBoundary  *uint64           `json:"commit_boundary,omitempty"`
}

const (
	// FormatVersion1 is the legacy manifest shape, no MVCC boundary.
	FormatVersion1 = 1
	// FormatVersion2 carries CommitBoundary (§4.4 "Optional MVCC mode").
	FormatVersion2 = 2
)

const manifestFileName = "manifest.json"
