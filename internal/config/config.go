// Package config loads the core's configuration toggles (§6). All toggles
// default to conservative/disabled, and when disabled MUST yield behavior
// byte-identical to the baseline — callers must not special-case "disabled"
// as a distinct code path beyond skipping the optimization.
//
// Loading precedence: built-in defaults → optional <data_dir>/aerodb.jsonc
// (JSON-with-comments via hujson) → CLI overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// GroupCommit controls WAL group-commit batching of concurrent appenders
// behind a single fsync (§4.1 optimization).
type GroupCommit struct {
	Enabled bool `json:"enabled"`
}

// Batching controls concatenation of serialized records into one write
// (§4.1 optimization).
type Batching struct {
	Enabled    bool `json:"enabled"`
	MaxRecords int  `json:"max_records,omitempty"`
	MaxBytes   int  `json:"max_bytes,omitempty"`
}

// ReadPath controls the replica fast-read visibility cache (§4.7
// optimization).
type ReadPath struct {
	VisibilityCacheEnabled bool `json:"visibility_cache_enabled"`
	ShortCircuitEnabled    bool `json:"short_circuit_enabled"`
}

// FastRead is a separate top-level toggle, distinct from ReadPath's
// finer-grained sub-toggles.
type FastRead struct {
	Enabled bool `json:"enabled"`
}

// CheckpointPipeline controls Phase A/B checkpoint pipelining (§4.5
// optimization).
type CheckpointPipeline struct {
	Enabled bool `json:"enabled"`
}

// MemoryLayout is a namespace for layout-related tunables (§9 "memory
// layout" optimization); left empty beyond the enabled flag since no
// concrete field list is called for.
type MemoryLayout struct {
	Enabled bool `json:"enabled"`
}

// Config is the full toggle set, §6 "Configuration toggles".
type Config struct {
	GroupCommit        GroupCommit        `json:"group_commit"`
	Batching           Batching           `json:"batching"`
	ReadPath           ReadPath           `json:"read_path"`
	FastRead           FastRead           `json:"fast_read"`
	CheckpointPipeline CheckpointPipeline `json:"checkpoint_pipeline"`
	MemoryLayout       MemoryLayout       `json:"memory_layout"`
}

// Default returns every toggle disabled.
func Default() Config {
	return Config{
		Batching: Batching{MaxRecords: 256, MaxBytes: 1 << 20},
	}
}

// FileName is the optional config file read from <data_dir>.
const FileName = "aerodb.jsonc"

// Load reads defaults, then <dataDir>/aerodb.jsonc if present, then applies
// overrides (already-parsed CLI-derived values; nil fields are no-ops via
// an overlay function supplied by the caller).
func Load(dataDir string, overlay func(Config) Config) (Config, error) {
	cfg := Default()

	path := filepath.Join(dataDir, FileName)

	data, err := os.ReadFile(path) //nolint:gosec // data_dir is operator-controlled
	switch {
	case err == nil:
		fileCfg, parseErr := parse(data)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, parseErr)
		}

		cfg = fileCfg
	case os.IsNotExist(err):
		// optional file, defaults stand
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	if overlay != nil {
		cfg = overlay(cfg)
	}

	return cfg, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// Format renders cfg as pretty JSON, for `aerodb status`.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}
