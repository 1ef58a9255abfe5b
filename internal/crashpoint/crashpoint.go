// Package crashpoint implements the named crash-point interface (§6,
// test/diag only): an environment variable selects one named point in the
// control flow; hitting it aborts the process immediately with no cleanup.
// Zero cost when unset.
//
// A single env read is cached for process lifetime, against a fixed
// catalog of point names grouped by subsystem.
package crashpoint

import (
	"fmt"
	"os"
	"sync"
)

const envVar = "AERODB_CRASH_POINT"

// Point names, grouped by subsystem.
const (
	WALBeforeAppend   = "wal_before_append"
	WALAfterAppend    = "wal_after_append"
	WALBeforeFsync    = "wal_before_fsync"
	WALAfterFsync     = "wal_after_fsync"
	WALBeforeTruncate = "wal_before_truncate"
	WALAfterTruncate  = "wal_after_truncate"

	StorageBeforeWrite    = "storage_before_write"
	StorageAfterWrite     = "storage_after_write"
	StorageBeforeChecksum = "storage_before_checksum"
	StorageAfterChecksum  = "storage_after_checksum"

	SnapshotStart             = "snapshot_start"
	SnapshotAfterStorageCopy  = "snapshot_after_storage_copy"
	SnapshotBeforeManifest    = "snapshot_before_manifest"
	SnapshotAfterManifest     = "snapshot_after_manifest"

	CheckpointStart              = "checkpoint_start"
	CheckpointAfterSnapshot      = "checkpoint_after_snapshot"
	CheckpointBeforeWALTruncate  = "checkpoint_before_wal_truncate"
	CheckpointAfterWALTruncate   = "checkpoint_after_wal_truncate"

	BackupStart            = "backup_start"
	BackupAfterSnapshotCopy = "backup_after_snapshot_copy"
	BackupAfterWALCopy     = "backup_after_wal_copy"
	BackupBeforeArchive    = "backup_before_archive"

	RestoreStart         = "restore_start"
	RestoreAfterExtract  = "restore_after_extract"
	RestoreBeforeReplace = "restore_before_replace"
	RestoreAfterReplace  = "restore_after_replace"

	RecoveryStart             = "recovery_start"
	RecoveryAfterWALReplay    = "recovery_after_wal_replay"
	RecoveryAfterIndexRebuild = "recovery_after_index_rebuild"
)

// All returns every named crash point. Len must stay 29.
func All() []string {
	return []string{
		WALBeforeAppend, WALAfterAppend, WALBeforeFsync, WALAfterFsync,
		WALBeforeTruncate, WALAfterTruncate,
		StorageBeforeWrite, StorageAfterWrite, StorageBeforeChecksum, StorageAfterChecksum,
		SnapshotStart, SnapshotAfterStorageCopy, SnapshotBeforeManifest, SnapshotAfterManifest,
		CheckpointStart, CheckpointAfterSnapshot, CheckpointBeforeWALTruncate, CheckpointAfterWALTruncate,
		BackupStart, BackupAfterSnapshotCopy, BackupAfterWALCopy, BackupBeforeArchive,
		RestoreStart, RestoreAfterExtract, RestoreBeforeReplace, RestoreAfterReplace,
		RecoveryStart, RecoveryAfterWALReplay, RecoveryAfterIndexRebuild,
	}
}

var (
	once     sync.Once
	selected string
)

func target() string {
	once.Do(func() {
		selected = os.Getenv(envVar)
	})

	return selected
}

// exitFunc reports the crash point on stderr and terminates the process with
// exit code 1. Tests observe it from a re-executed child process.
var exitFunc = func(name string) {
	fmt.Fprintf(os.Stderr, "[CRASH] Triggering crash at point: %s\n", name)
	os.Exit(1)
}

// Hit aborts the process immediately if name matches AERODB_CRASH_POINT.
// No-op (and effectively free — one string compare) otherwise.
func Hit(name string) {
	if target() != "" && target() == name {
		exitFunc(name)
	}
}

// Enabled reports whether name is the currently selected crash point,
// without triggering it. Exposed for tests that assert on configuration.
func Enabled(name string) bool {
	return target() == name
}
