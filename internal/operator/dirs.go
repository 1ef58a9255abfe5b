package operator

import "path/filepath"

// layout returns the well-known paths under a data directory (§6 "Filesystem
// layout"): storage.dat and metadata/schemas are fixed, not configurable —
// every package above this CLI already assumes this exact tree shape.
type layout struct {
	dataDir     string
	storagePath string
	schemaDir   string
}

func newLayout(dataDir string) layout {
	return layout{
		dataDir:     dataDir,
		storagePath: filepath.Join(dataDir, "storage.dat"),
		schemaDir:   filepath.Join(dataDir, "metadata", "schemas"),
	}
}
