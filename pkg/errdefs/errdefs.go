// Package errdefs classifies reconcile failures so controllers can map each
// class to the right requeue, status and event behavior.
//
// The classes:
//
//   - NotReady: a precondition is not met yet. Expected during convergence;
//     requeued after a short delay, never logged as an error.
//   - Transient: a network or API call failed but retrying can succeed.
//     Returned to the workqueue for backoff.
//   - Conflict: another field manager owns a field this operator must set.
//     Surfaced on status and events; never resolved by force-applying.
//   - InvalidSpec: the resource spec can never converge as written.
//     Surfaced on status; not requeued, since only a spec change helps.
//   - Unrecoverable: the run is lost (e.g. crash budget exhausted). Moves
//     the owning state machine to its Failed state.
package errdefs

import (
	"errors"
	"fmt"
)

// NotReadyError signals an unmet precondition, not a failure.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	return "not ready: " + e.Reason
}

// NotReady builds a NotReadyError with a formatted reason.
func NotReady(format string, args ...any) error {
	return &NotReadyError{Reason: fmt.Sprintf(format, args...)}
}

// IsNotReady reports whether any error in err's chain is a NotReadyError.
func IsNotReady(err error) bool {
	var target *NotReadyError
	return errors.As(err, &target)
}

// TransientError wraps a retryable failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether any error in err's chain is a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// ConflictError reports that another field manager owns a field this
// operator needs. It always wraps the API server's conflict response.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return "field conflict: " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Conflict wraps an apply conflict. Returns nil for a nil err.
func Conflict(err error) error {
	if err == nil {
		return nil
	}
	return &ConflictError{Err: err}
}

// IsConflict reports whether any error in err's chain is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// InvalidSpecError reports a spec that can never converge as written.
type InvalidSpecError struct {
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return "invalid spec: " + e.Reason
}

// InvalidSpec builds an InvalidSpecError with a formatted reason.
func InvalidSpec(format string, args ...any) error {
	return &InvalidSpecError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidSpec reports whether any error in err's chain is an InvalidSpecError.
func IsInvalidSpec(err error) bool {
	var target *InvalidSpecError
	return errors.As(err, &target)
}

// UnrecoverableError reports a run that cannot make progress again.
type UnrecoverableError struct {
	Reason string
}

func (e *UnrecoverableError) Error() string {
	return "unrecoverable: " + e.Reason
}

// Unrecoverable builds an UnrecoverableError with a formatted reason.
func Unrecoverable(format string, args ...any) error {
	return &UnrecoverableError{Reason: fmt.Sprintf(format, args...)}
}

// IsUnrecoverable reports whether any error in err's chain is an UnrecoverableError.
func IsUnrecoverable(err error) bool {
	var target *UnrecoverableError
	return errors.As(err, &target)
}
