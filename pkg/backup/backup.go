// Package backup is the Backup Engine (§4.6): packages the latest snapshot
// plus the WAL tail into a deterministic, uncompressed POSIX tar archive
// with its own manifest.
//
// Uses stdlib archive/tar: no third-party tar library fits better here, and
// archive/tar already does exactly what's needed (plain POSIX tar, no
// compression) — see DESIGN.md.
package backup

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/internal/crashpoint"
	"github.com/aerodb/aerodb/internal/execlock"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/snapshot"
)

// Manifest is written inside the archive at backup_manifest.json (§3).
type Manifest struct {
	BackupID      string `json:"backup_id"`
	CreatedAt     string `json:"created_at"`
	SnapshotID    string `json:"snapshot_id"`
	WALPresent    bool   `json:"wal_present"`
	FormatVersion int    `json:"format_version"`
}

// WAL is the subset of *wal.Writer the engine needs.
type WAL interface {
	Fsync() error
}

// Engine creates backup archives.
type Engine struct {
	fsys fs.FS
}

// New returns a backup engine bound to fsys.
func New(fsys fs.FS) *Engine {
	return &Engine{fsys: fsys}
}

const tempDirName = ".backup_temp"

// Create runs the exact protocol in §4.6 and returns the backup id
// (== latest snapshot id). The caller must hold the global execution lock.
func (e *Engine) Create(_ *execlock.Token, dataDir, outputPath string, w WAL) (string, error) {
	crashpoint.Hit(crashpoint.BackupStart)

	if err := w.Fsync(); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupFailed, err, aeroerr.WithComponent("backup"))
	}

	snapDir, manifest, found, err := snapshot.FindLatest(e.fsys, dataDir)
	if err != nil || !found {
		if err == nil {
			err = fmt.Errorf("no snapshot available for backup")
		}

		return "", aeroerr.New(aeroerr.CodeBackupFailed, err, aeroerr.WithComponent("backup"))
	}

	tempDir := filepath.Join(dataDir, tempDirName)
	id, err := e.create(tempDir, dataDir, snapDir, manifest, outputPath)
	if err != nil {
		_ = e.fsys.RemoveAll(tempDir)
		_ = e.fsys.Remove(outputPath)

		return "", err
	}

	return id, nil
}

func (e *Engine) create(tempDir, dataDir, snapDir string, manifest snapshot.Manifest, outputPath string) (string, error) {
	if err := e.fsys.RemoveAll(tempDir); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	tempSnapDir := filepath.Join(tempDir, "snapshot")
	if err := e.copyDir(snapDir, tempSnapDir); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	crashpoint.Hit(crashpoint.BackupAfterSnapshotCopy)

	walPresent, err := e.copyWAL(dataDir, tempDir)
	if err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	crashpoint.Hit(crashpoint.BackupAfterWALCopy)

	backupManifest := Manifest{
		BackupID:      manifest.SnapshotID,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		SnapshotID:    manifest.SnapshotID,
		WALPresent:    walPresent,
		FormatVersion: 1,
	}

	if err := e.writeManifest(tempDir, backupManifest); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupManifest, err, aeroerr.WithComponent("backup"))
	}

	if err := e.fsyncTree(tempDir); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	crashpoint.Hit(crashpoint.BackupBeforeArchive)

	if err := e.pack(tempDir, outputPath); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	if err := e.fsyncFile(outputPath); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	if err := e.fsys.RemoveAll(tempDir); err != nil {
		return "", aeroerr.New(aeroerr.CodeBackupIO, err, aeroerr.WithComponent("backup"))
	}

	return manifest.SnapshotID, nil
}

func (e *Engine) copyWAL(dataDir, tempDir string) (bool, error) {
	src := filepath.Join(dataDir, "wal", "wal.log")

	exists, err := e.fsys.Exists(src)
	if err != nil {
		return false, err
	}

	if !exists {
		return false, nil
	}

	destDir := filepath.Join(tempDir, "wal")
	if err := e.fsys.MkdirAll(destDir, 0o755); err != nil {
		return false, err
	}

	if err := e.copyFile(src, filepath.Join(destDir, "wal.log")); err != nil {
		return false, err
	}

	return true, nil
}

func (e *Engine) copyDir(src, dest string) error {
	if err := e.fsys.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	entries, err := e.fsys.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())

		if entry.IsDir() {
			if err := e.copyDir(srcPath, destPath); err != nil {
				return err
			}

			continue
		}

		if err := e.copyFile(srcPath, destPath); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) copyFile(src, dest string) error {
	in, err := e.fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := e.fsys.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Sync()
}

func (e *Engine) writeManifest(tempDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	f, err := e.fsys.Create(filepath.Join(tempDir, "backup_manifest.json"))
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}

	return f.Sync()
}

func (e *Engine) fsyncFile(path string) error {
	f, err := e.fsys.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Sync()
}

// fsyncTree recursively fsyncs every file and directory under root.
func (e *Engine) fsyncTree(root string) error {
	entries, err := e.fsys.ReadDir(root)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if err := e.fsyncTree(path); err != nil {
				return err
			}

			continue
		}

		if err := e.fsyncFile(path); err != nil {
			return err
		}
	}

	return e.fsyncFile(root)
}

// archiveEntry is one file collected for tar packaging, keyed by its
// archive-relative path for deterministic sorting.
type archiveEntry struct {
	archivePath string
	fullPath    string
}

// pack walks tempDir and writes a POSIX tar archive with entries sorted by
// archive path, uncompressed (§4.6 step 8).
func (e *Engine) pack(tempDir, outputPath string) error {
	var entries []archiveEntry

	if err := e.collect(tempDir, "", &entries); err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].archivePath < entries[j].archivePath })

	out, err := e.fsys.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	tw := tar.NewWriter(out)

	for _, entry := range entries {
		f, err := e.fsys.Open(entry.fullPath)
		if err != nil {
			return err
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()

			return err
		}

		hdr := &tar.Header{
			Name:    filepath.ToSlash(entry.archivePath),
			Mode:    int64(info.Mode().Perm()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		if err := tw.WriteHeader(hdr); err != nil {
			f.Close()

			return err
		}

		if _, err := io.Copy(tw, f); err != nil {
			f.Close()

			return err
		}

		f.Close()
	}

	if err := tw.Close(); err != nil {
		return err
	}

	return out.Sync()
}

func (e *Engine) collect(dir, prefix string, out *[]archiveEntry) error {
	entries, err := e.fsys.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		archivePath := entry.Name()

		if prefix != "" {
			archivePath = prefix + "/" + entry.Name()
		}

		if entry.IsDir() {
			if err := e.collect(full, archivePath, out); err != nil {
				return err
			}

			continue
		}

		*out = append(*out, archiveEntry{archivePath: archivePath, fullPath: full})
	}

	return nil
}
