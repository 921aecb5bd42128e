// Package errors provides centralized error definitions and classification
// helpers for groomflow. It defines sentinel errors for the session and
// checkpoint subsystems plus a StageError type that carries the
// transient/permanent classification the orchestrator's retry and fallback
// policies depend on.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Session-related sentinel errors.
var (
	// ErrSessionNotFound indicates that no checkpoint exists for a session.
	ErrSessionNotFound = New("session not found")
	// ErrSessionLocked indicates that another process holds the session's
	// writer lock.
	ErrSessionLocked = New("session is locked")
	// ErrSessionCorrupted indicates that persisted session data cannot be
	// decoded.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrNotAwaitingApproval indicates an approval submission against a
	// session that is not awaiting approval.
	ErrNotAwaitingApproval = New("session is not awaiting approval")
	// ErrNotAwaitingContext indicates a context submission against a
	// session that is not awaiting context.
	ErrNotAwaitingContext = New("session is not awaiting context")
)

// Checkpoint-related sentinel errors.
var (
	// ErrCheckpointNotFound indicates that a checkpoint could not be found.
	ErrCheckpointNotFound = New("checkpoint not found")
	// ErrCheckpointExists indicates an append at an already-used sequence
	// number. Checkpoints are append-only and never rewritten.
	ErrCheckpointExists = New("checkpoint already exists")
	// ErrLockNotHeld indicates a release or refresh on a lock that the
	// caller no longer holds.
	ErrLockNotHeld = New("lock not held")
)

// Pipeline-related sentinel errors.
var (
	// ErrStageNotFound indicates that no stage function is registered
	// under the requested name.
	ErrStageNotFound = New("stage not found")
	// ErrDependencyCycle indicates that blocking edges still form a cycle
	// after cleaning. This should be unreachable and is fatal for the
	// dependency stage.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrNoPendingInterrupt indicates a resume against a session with no
	// active interrupt.
	ErrNoPendingInterrupt = New("no pending interrupt")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// FailureClass classifies a stage failure for retry purposes.
type FailureClass int

const (
	// FailureTransient marks failures that may succeed on retry
	// (timeouts, rate limits, flaky transport).
	FailureTransient FailureClass = iota
	// FailurePermanent marks failures that will not succeed on retry.
	FailurePermanent
)

// String returns the string representation of the failure class.
func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// StageError wraps an error produced by a stage function with the stage name
// and a failure classification.
type StageError struct {
	Stage string
	Class FailureClass
	Err   error
}

// NewTransient creates a transient StageError.
func NewTransient(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: FailureTransient, Err: err}
}

// NewPermanent creates a permanent StageError.
func NewPermanent(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: FailurePermanent, Err: err}
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s failure: %v", e.Stage, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a transient stage failure.
// Errors with no classification are treated as permanent.
func IsTransient(err error) bool {
	var se *StageError
	if As(err, &se) {
		return se.Class == FailureTransient
	}
	return false
}

// IsPermanent reports whether err is a stage failure that retrying cannot
// fix. Unclassified errors count as permanent.
func IsPermanent(err error) bool {
	var se *StageError
	if As(err, &se) {
		return se.Class == FailurePermanent
	}
	return err != nil
}

// StageOf returns the stage name recorded on err, or "" if err carries no
// stage classification.
func StageOf(err error) string {
	var se *StageError
	if As(err, &se) {
		return se.Stage
	}
	return ""
}
