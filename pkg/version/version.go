// Package version is the Version Store (§4.3): it cross-validates the
// commit records and version records recovered from WAL replay against
// what is actually present in storage, rejecting orphan or missing
// versions. Every violation is fatal for recovery (§4.9).
//
// Version chains are represented as an ordered sequence keyed by
// (key, commit_id), never as pointer chains.
package version

import (
	"fmt"

	"github.com/aerodb/aerodb/pkg/mvcc"
)

// Kind enumerates the violation categories named in §4.3.
type Kind int

const (
	// MissingVersion: the commit is durable but its expected version is
	// absent from storage.
	MissingVersion Kind = iota
	// OrphanVersion: a version is present in storage but its commit is not
	// durable (never appeared as an MvccCommit record in WAL).
	OrphanVersion
	// CommitMismatch: an MvccVersion record references a commit id that no
	// MvccCommit record established.
	CommitMismatch
	// PartialWrite: a multi-key commit landed some but not all of its
	// expected versions in storage.
	PartialWrite
)

func (k Kind) String() string {
	switch k {
	case MissingVersion:
		return "MissingVersion"
	case OrphanVersion:
		return "OrphanVersion"
	case CommitMismatch:
		return "CommitMismatch"
	case PartialWrite:
		return "PartialWrite"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Violation describes one cross-validation failure.
type Violation struct {
	Kind     Kind
	CommitID mvcc.CommitID
	Key      string
	Detail   string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: commit_id=%d key=%q: %s", v.Kind, v.CommitID, v.Key, v.Detail)
}

// Expectation is one {commit_id, key} tuple a WAL-recorded MvccVersion
// record says should exist in storage.
type Expectation struct {
	CommitID mvcc.CommitID
	Key      string
}

// Expectations accumulates the facts WAL replay establishes: which commit
// ids became durable (MvccCommit records), and which {commit_id, key}
// tuples should exist in storage (MvccVersion records).
type Expectations struct {
	DurableCommits map[mvcc.CommitID]bool
	Versions       []Expectation
}

// NewExpectations returns an empty accumulator.
func NewExpectations() *Expectations {
	return &Expectations{DurableCommits: make(map[mvcc.CommitID]bool)}
}

// ObserveCommit records that commitID's MvccCommit record was found durable
// in WAL.
func (e *Expectations) ObserveCommit(commitID mvcc.CommitID) {
	e.DurableCommits[commitID] = true
}

// ObserveVersion records that an MvccVersion record for (commitID, key) was
// found in WAL.
func (e *Expectations) ObserveVersion(commitID mvcc.CommitID, key string) {
	e.Versions = append(e.Versions, Expectation{CommitID: commitID, Key: key})
}

// StoredVersion is a {commit_id, key} tuple actually found in persisted
// storage.
type StoredVersion struct {
	CommitID mvcc.CommitID
	Key      string
}

// Validate cross-checks expected WAL facts against actual storage state and
// returns every violation found (§4.3). An empty result means storage is
// consistent with WAL.
func Validate(expected *Expectations, actual []StoredVersion) []Violation {
	actualSet := make(map[Expectation]bool, len(actual))
	for _, sv := range actual {
		actualSet[Expectation{CommitID: sv.CommitID, Key: sv.Key}] = true
	}

	expectedCountByCommit := make(map[mvcc.CommitID]int)
	for _, exp := range expected.Versions {
		expectedCountByCommit[exp.CommitID]++
	}

	actualCountByCommit := make(map[mvcc.CommitID]int)
	for _, sv := range actual {
		actualCountByCommit[sv.CommitID]++
	}

	var violations []Violation

	for _, exp := range expected.Versions {
		if !expected.DurableCommits[exp.CommitID] {
			violations = append(violations, Violation{
				Kind: CommitMismatch, CommitID: exp.CommitID, Key: exp.Key,
				Detail: "version references a commit id with no durable MvccCommit record",
			})

			continue
		}

		if actualSet[exp] {
			continue
		}

		expectedCount := expectedCountByCommit[exp.CommitID]
		actualCount := actualCountByCommit[exp.CommitID]

		kind := MissingVersion
		if actualCount > 0 && actualCount < expectedCount {
			kind = PartialWrite
		}

		violations = append(violations, Violation{
			Kind: kind, CommitID: exp.CommitID, Key: exp.Key,
			Detail: "commit is durable but storage lacks this version",
		})
	}

	for _, sv := range actual {
		if !expected.DurableCommits[sv.CommitID] {
			violations = append(violations, Violation{
				Kind: OrphanVersion, CommitID: sv.CommitID, Key: sv.Key,
				Detail: "version present in storage but its commit is not durable",
			})
		}
	}

	return violations
}
