// Package recovery orchestrates startup recovery (§4.9): WAL replay into
// the Commit Authority and Version Store, cross-validation against
// persisted storage, and (for replicas) snapshot-install and WAL-continuity
// checks layered on top.
//
// This package is pure orchestration of pkg/wal, pkg/mvcc, pkg/version,
// pkg/snapshot and pkg/replication, so it needs nothing from the ecosystem
// beyond what those packages already import.
package recovery

import (
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/pkg/fs"
	"github.com/aerodb/aerodb/pkg/mvcc"
	"github.com/aerodb/aerodb/pkg/replication"
	"github.com/aerodb/aerodb/pkg/snapshot"
	"github.com/aerodb/aerodb/pkg/version"
	"github.com/aerodb/aerodb/pkg/wal"
)

// Result is the outcome of a successful recovery: an authority reasserted
// at the correct commit id, and the commit id of the first MvccCommit
// record replayed (0 if the WAL carried no commits at all).
type Result struct {
	Authority     *mvcc.Authority
	FirstCommitID mvcc.CommitID
	HasCommits    bool
}

// Primary runs §4.9's primary recovery: seed the commit authority at the
// latest snapshot's commit boundary (if any), replay WAL on top of that
// seed into the commit authority and version expectations, validate
// against storedVersions, and reassert authority at highest_durable_commit.
// Checkpoint is the sole WAL truncator and resets WAL sequence to 1 (§4.5),
// so after a checkpoint the post-truncate WAL alone carries no memory of
// commits durable before the truncation — the snapshot manifest is what
// carries the high-water mark forward. Any validation failure aborts
// startup (returns a FATAL error) — recovery never guesses.
func Primary(fsys fs.FS, dataDir string, storedVersions []version.StoredVersion) (Result, error) {
	authority := mvcc.New()

	_, manifest, found, err := snapshot.FindLatest(fsys, dataDir)
	if err != nil {
		return Result{}, aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
	}

	if found && manifest.CommitBoundary != nil {
		authority.Reassert(mvcc.CommitID(*manifest.CommitBoundary))
	}

	expectations, firstCommit, hasCommits, err := replayWAL(authority, fsys, dataDir)
	if err != nil {
		return Result{}, err
	}

	if violations := version.Validate(expectations, storedVersions); len(violations) > 0 {
		return Result{}, fatalViolations(violations)
	}

	authority.Reassert(authority.HighestCommitID())

	return Result{Authority: authority, FirstCommitID: firstCommit, HasCommits: hasCommits}, nil
}

// Replica runs primary recovery's WAL validation plus replica-specific
// checks (§4.9): a mid-install snapshot is discarded, an installed
// snapshot's checksums are verified against its manifest, and WAL
// continuity is required to begin at C_snap+1. A halted replica stays
// halted — the caller is responsible for checking replication.Machine
// before calling Replica.
func Replica(
	fsys fs.FS,
	dataDir string,
	storedVersions []version.StoredVersion,
	bootstrap *replication.Bootstrap,
) (Result, error) {
	result, err := Primary(fsys, dataDir, storedVersions)
	if err != nil {
		return Result{}, err
	}

	if bootstrap != nil {
		switch bootstrap.Stage() {
		case replication.BootstrapInstalled:
			if err := verifyInstalledSnapshot(fsys, dataDir, bootstrap.BaseCommit(), result); err != nil {
				return Result{}, err
			}
		case replication.BootstrapIdle:
			// nothing was ever staged, nothing to discard
		default:
			// staging was left mid-flight (Transferring/TransferComplete/
			// Validated but never Installed): discard and require a fresh
			// bootstrap before this replica can serve reads or accept WAL.
			bootstrap.Fail()
		}
	}

	return result, nil
}

// verifyInstalledSnapshot checks an installed snapshot's checksums against
// its manifest, then requires that the WAL that was replayed on top of it
// continues at C_snap+1: the first commit id observed in the WAL must be
// exactly one past the snapshot's commit boundary. An empty post-snapshot
// WAL is valid continuity (nothing has committed since the snapshot yet).
func verifyInstalledSnapshot(fsys fs.FS, dataDir string, baseCommit uint64, result Result) error {
	snapDir, manifest, found, err := snapshot.FindLatest(fsys, dataDir)
	if err != nil {
		return aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
	}

	if !found {
		return aeroerr.New(aeroerr.CodeRecoveryFailed,
			fmt.Errorf("replica recovery: snapshot reported installed but none found on disk"),
			aeroerr.WithComponent("recovery"))
	}

	if err := verifyChecksums(fsys, snapDir, manifest); err != nil {
		return aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
	}

	if result.HasCommits && uint64(result.FirstCommitID) != baseCommit+1 {
		return aeroerr.New(aeroerr.CodeRecoveryFailed,
			fmt.Errorf("replica recovery: WAL continuity broken, first replayed commit %d is not C_snap+1=%d",
				result.FirstCommitID, baseCommit+1),
			aeroerr.WithComponent("recovery"))
	}

	return nil
}

func verifyChecksums(fsys fs.FS, snapDir string, manifest snapshot.Manifest) error {
	got, err := checksumFile(fsys, filepath.Join(snapDir, "storage.dat"))
	if err != nil {
		return err
	}

	if got != manifest.StorageChecksum {
		return fmt.Errorf("storage checksum mismatch: manifest=%s actual=%s", manifest.StorageChecksum, got)
	}

	for name, want := range manifest.SchemaChecksums {
		got, err := checksumFile(fsys, filepath.Join(snapDir, "schemas", name))
		if err != nil {
			return err
		}

		if got != want {
			return fmt.Errorf("schema %q checksum mismatch: manifest=%s actual=%s", name, want, got)
		}
	}

	return nil
}

// replayWAL replays dataDir's WAL on top of authority, which the caller has
// already seeded at the latest snapshot's commit boundary (or left at zero
// if there is none). ObserveReplayedCommit requires strictly increasing
// ids but tolerates the gap between a snapshot's boundary and the first
// post-snapshot commit.
func replayWAL(authority *mvcc.Authority, fsys fs.FS, dataDir string) (*version.Expectations, mvcc.CommitID, bool, error) {
	expectations := version.NewExpectations()

	reader, err := wal.OpenReader(fsys, dataDir)
	if err != nil {
		return nil, 0, false, aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
	}

	if reader == nil {
		return expectations, 0, false, nil
	}

	defer reader.Close()

	var (
		firstCommit mvcc.CommitID
		hasCommits  bool
	)

	records, err := wal.ReadAll(reader)
	if err != nil {
		return nil, 0, false, aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
	}

	for _, rec := range records {
		switch rec.Type {
		case wal.MvccCommit:
			payload, err := wal.DecodeMvccCommitPayload(rec.Payload)
			if err != nil {
				return nil, 0, false, aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
			}

			id := mvcc.CommitID(payload.CommitID)

			if err := authority.ObserveReplayedCommit(id); err != nil {
				return nil, 0, false, err
			}

			if !hasCommits {
				firstCommit = id
				hasCommits = true
			}

			expectations.ObserveCommit(id)
		case wal.MvccVersion:
			payload, err := wal.DecodeMvccVersionPayload(rec.Payload)
			if err != nil {
				return nil, 0, false, aeroerr.New(aeroerr.CodeRecoveryFailed, err, aeroerr.WithComponent("recovery"))
			}

			expectations.ObserveVersion(mvcc.CommitID(payload.CommitID), payload.Key)
		}
	}

	return expectations, firstCommit, hasCommits, nil
}

// checksumFile mirrors pkg/snapshot's own checksumFile exactly, so a
// snapshot written by this core always reverifies against the same
// algorithm it was created with.
func checksumFile(fsys fs.FS, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("crc32:%08x", h.Sum32()), nil
}

func fatalViolations(violations []version.Violation) error {
	msg := fmt.Sprintf("%d version/commit consistency violation(s) found during recovery, first: %s",
		len(violations), violations[0].Error())

	return aeroerr.New(aeroerr.CodeVersionViolation, fmt.Errorf("%s", msg), aeroerr.WithComponent("recovery"))
}
