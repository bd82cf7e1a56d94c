// SPDX-License-Identifier: MIT

// Package syncerr defines the error taxonomy shared by the sync pipeline.
//
// Every error produced here matches its category sentinel with errors.Is:
//
//	if errors.Is(err, syncerr.ErrConnectivity) {
//	    // fall back to offline handling
//	}
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectivity is returned when the remote is unreachable. Recoverable;
	// callers route to offline handling.
	ErrConnectivity = errors.New("remote unreachable")

	// ErrMergeConflict is returned when a merge left conflicted paths that
	// need per-file resolution.
	ErrMergeConflict = errors.New("merge conflicts")

	// ErrResolutionIncomplete is returned when deferred files remain after a
	// resolution pass. The pass can be resumed.
	ErrResolutionIncomplete = errors.New("resolution incomplete")

	// ErrBackupFailure is fatal for the enclosing operation, which is aborted
	// before any mutation.
	ErrBackupFailure = errors.New("backup failed")

	// ErrRestoreFailure means the safety net itself is compromised.
	ErrRestoreFailure = errors.New("restore failed")

	// ErrRepositoryBusy is returned when another operation holds the vault lock.
	ErrRepositoryBusy = errors.New("repository busy")
)

// Error carries a taxonomy category plus the recovery context for the user.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Op names the failed step, for example "keep-remote".
	Op string
	// SnapshotID is set for failures that follow a successful backup.
	SnapshotID string
	// RecoveryPath points at written recovery instructions, when any.
	RecoveryPath string
	// Paths lists conflicted or deferred files.
	Paths []string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " (%d file(s): %s)", len(e.Paths), strings.Join(e.Paths, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.SnapshotID != "" {
		fmt.Fprintf(&b, " [backup %s]", e.SnapshotID)
	}
	return b.String()
}

// Unwrap exposes both the category and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Connectivity wraps err as a ConnectivityError.
func Connectivity(op string, err error) error {
	return newError(ErrConnectivity, op, err)
}

// MergeConflict reports conflicted paths left by a merge.
func MergeConflict(op string, paths []string) error {
	e := newError(ErrMergeConflict, op, nil)
	e.Paths = paths
	return e
}

// ResolutionIncomplete reports deferred paths after a resolution pass.
func ResolutionIncomplete(op string, deferred []string) error {
	e := newError(ErrResolutionIncomplete, op, nil)
	e.Paths = deferred
	return e
}

// BackupFailure wraps err as a BackupFailure.
func BackupFailure(op string, err error) error {
	return newError(ErrBackupFailure, op, err)
}

// RestoreFailure wraps err as a RestoreFailure, pointing at the written
// manual recovery instructions.
func RestoreFailure(op, snapshotID, recoveryPath string, err error) error {
	e := newError(ErrRestoreFailure, op, err)
	e.SnapshotID = snapshotID
	e.RecoveryPath = recoveryPath
	return e
}

// Busy reports that the vault lock is held elsewhere.
func Busy(path string) error {
	return newError(ErrRepositoryBusy, "lock", fmt.Errorf("another operation holds %s", path))
}

// WithSnapshot attaches a snapshot id (and optional recovery path) to err.
// A taxonomy error is annotated in place; any other error is wrapped.
func WithSnapshot(err error, snapshotID, recoveryPath string) error {
	if err == nil || snapshotID == "" {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		if se.SnapshotID == "" {
			se.SnapshotID = snapshotID
		}
		if se.RecoveryPath == "" {
			se.RecoveryPath = recoveryPath
		}
		return err
	}
	return &snapshotError{err: err, snapshotID: snapshotID, recoveryPath: recoveryPath}
}

type snapshotError struct {
	err          error
	snapshotID   string
	recoveryPath string
}

func (e *snapshotError) Error() string {
	return fmt.Sprintf("%s [backup %s]", e.err, e.snapshotID)
}

func (e *snapshotError) Unwrap() error { return e.err }

// SnapshotID extracts the snapshot id carried by err, if any.
func SnapshotID(err error) string {
	var se *Error
	if errors.As(err, &se) && se.SnapshotID != "" {
		return se.SnapshotID
	}
	var sn *snapshotError
	if errors.As(err, &sn) {
		return sn.snapshotID
	}
	return ""
}

// RecoveryPath extracts the recovery instructions path carried by err, if any.
func RecoveryPath(err error) string {
	var se *Error
	if errors.As(err, &se) && se.RecoveryPath != "" {
		return se.RecoveryPath
	}
	var sn *snapshotError
	if errors.As(err, &sn) {
		return sn.recoveryPath
	}
	return ""
}

// Paths extracts the conflicted or deferred paths carried by err.
func Paths(err error) []string {
	var se *Error
	if errors.As(err, &se) {
		return se.Paths
	}
	return nil
}

// IsRecoverable reports errors that are expected control flow rather than
// failures: connectivity loss, conflicts, and deferred resolution.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConnectivity) ||
		errors.Is(err, ErrMergeConflict) ||
		errors.Is(err, ErrResolutionIncomplete)
}

// IsFatal reports errors that compromise the safety net.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBackupFailure) || errors.Is(err, ErrRestoreFailure)
}
