// Package aeroerr is the uniform structured error type returned by every
// public API in the durability core.
//
// Errors carry a stable Code, a Severity, an optional cause, and whatever
// structured fields (Offset, Sequence, Component) are known at the point of
// failure. Use [errors.As] to recover them:
//
//	var aErr *aeroerr.Error
//	if errors.As(err, &aErr) && aErr.Severity == aeroerr.SeverityFatal {
//	    os.Exit(1)
//	}
package aeroerr

import (
	"errors"
	"fmt"
	"strings"
)

// Severity distinguishes operation failures from process-ending conditions.
type Severity int

const (
	// SeverityError fails the current operation; the process stays up and
	// state remains consistent.
	SeverityError Severity = iota
	// SeverityFatal means the affected process must terminate; restart is
	// required to recover deterministically. Never caught and retried.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "FATAL"
	}

	return "ERROR"
}

// Code is a stable error identifier, e.g. "AERO_WAL_CORRUPTION".
type Code string

const (
	CodeWALAppendFailed        Code = "AERO_WAL_APPEND_FAILED"
	CodeWALFsyncFailed         Code = "AERO_WAL_FSYNC_FAILED"
	CodeWALCorruption          Code = "AERO_WAL_CORRUPTION"
	CodeSnapshotFailed         Code = "AERO_SNAPSHOT_FAILED"
	CodeSnapshotIO             Code = "AERO_SNAPSHOT_IO"
	CodeSnapshotManifest       Code = "AERO_SNAPSHOT_MANIFEST"
	CodeCheckpointFailed       Code = "AERO_CHECKPOINT_FAILED"
	CodeCheckpointMarkerFailed Code = "AERO_CHECKPOINT_MARKER_FAILED"
	CodeCheckpointWALTruncate  Code = "AERO_CHECKPOINT_WAL_TRUNCATE_FAILED"
	CodeBackupFailed           Code = "AERO_BACKUP_FAILED"
	CodeBackupIO               Code = "AERO_BACKUP_IO"
	CodeBackupManifest         Code = "AERO_BACKUP_MANIFEST"
	CodeMVCCNonMonotonic       Code = "AERO_MVCC_NON_MONOTONIC"
	CodeMVCCOutOfOrder         Code = "AERO_MVCC_OUT_OF_ORDER"
	CodeVersionViolation       Code = "AERO_VERSION_VIOLATION"
	CodeReplicationHalted      Code = "AERO_REPLICATION_HALTED"
	CodeReplicationRejected    Code = "AERO_REPLICATION_REJECTED"
	CodePromotionDenied        Code = "AERO_PROMOTION_DENIED"
	CodePromotionForbidden     Code = "AERO_PROMOTION_FORBIDDEN_TRANSITION"
	CodePromotionMarkerFailed  Code = "AERO_PROMOTION_MARKER_FAILED"
	CodeRecoveryFailed         Code = "AERO_RECOVERY_FAILED"
	CodeConfigInvalid          Code = "AERO_CONFIG_INVALID"
)

// fatalCodes mirrors §7: FATAL kinds terminate the affected process.
var fatalCodes = map[Code]bool{
	CodeWALFsyncFailed:         true,
	CodeWALCorruption:          true,
	CodeMVCCNonMonotonic:       true,
	CodeMVCCOutOfOrder:         true,
	CodeVersionViolation:       true,
	CodeRecoveryFailed:         true,
	CodeCheckpointWALTruncate:  true,
	CodeCheckpointMarkerFailed: true,
}

// Error is the uniform error type: its rendering puts the wrapped cause's
// message first, then structured context, as a "cause + suffix" string.
type Error struct {
	Code      Code
	Severity  Severity
	Err       error
	Offset    *int64
	Sequence  *uint64
	Component string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := e.cause()
	suffix := e.suffix()

	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

func (e *Error) String() string { return e.Error() }

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) cause() string {
	if e.Err == nil {
		return string(e.Code)
	}

	return e.Err.Error()
}

func (e *Error) suffix() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, "code="+string(e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component="+e.Component)
	}

	if e.Offset != nil {
		parts = append(parts, fmt.Sprintf("offset=%d", *e.Offset))
	}

	if e.Sequence != nil {
		parts = append(parts, fmt.Sprintf("sequence=%d", *e.Sequence))
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// Opt configures an [Error] during construction via [New] or [Wrap].
type Opt func(*Error)

func WithOffset(off int64) Opt     { return func(e *Error) { e.Offset = &off } }
func WithSequence(seq uint64) Opt  { return func(e *Error) { e.Sequence = &seq } }
func WithComponent(c string) Opt   { return func(e *Error) { e.Component = c } }
func WithSeverity(s Severity) Opt  { return func(e *Error) { e.Severity = s } }

// New builds an [*Error] for code, deriving severity from fatalCodes unless
// overridden by an [Opt].
func New(code Code, cause error, opts ...Opt) *Error {
	e := &Error{Code: code, Err: cause, Severity: severityFor(code)}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Wrap attaches code/context to err, inheriting fields from a direct inner
// [*Error] the way pkg/mddb.wrap does, to avoid duplicate suffixes.
func Wrap(err error, code Code, opts ...Opt) error {
	if err == nil {
		return nil
	}

	var existing *Error

	isDirectError := errors.As(err, &existing)

	e := &Error{Code: code, Severity: severityFor(code), Err: err}

	if isDirectError {
		e.Offset = existing.Offset
		e.Sequence = existing.Sequence
		e.Component = existing.Component
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func severityFor(code Code) Severity {
	if fatalCodes[code] {
		return SeverityFatal
	}

	return SeverityError
}

// IsFatal reports whether err carries FATAL severity.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == SeverityFatal
	}

	return false
}
