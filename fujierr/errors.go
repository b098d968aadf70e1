// Package fujierr defines the error kinds from the alignment pipeline's
// error-handling design: which failures are boundary validation, which
// are transient and retried by the queue, and which are terminal.
//
// Kinds carry a Retryable() bit consumed by the Job Queue's backoff loop
// (queue.Fail, the worker's retry path) so retry policy lives next to the
// error taxonomy instead of being re-derived at each call site.
package fujierr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories from the error-handling design.
type Kind string

const (
	// KindInvalidInput: bad coordinate or out-of-range parameter. Fails
	// fast at the boundary; never reaches persistence.
	KindInvalidInput Kind = "invalid_input"
	// KindEphemerisTransient: the astronomy kernel failed evaluating a
	// specific instant. Isolated per-window; other windows continue.
	KindEphemerisTransient Kind = "ephemeris_transient"
	// KindStorageTransient: backing database timeout or connection
	// reset. Retried by the job via the queue's backoff.
	KindStorageTransient Kind = "storage_transient"
	// KindQueueUnavailable: the queue's backing store could not accept
	// an enqueue. Surfaced synchronously to the caller.
	KindQueueUnavailable Kind = "queue_unavailable"
	// KindJobTimeout: a job exceeded its per-kind deadline. Counts
	// toward max_attempts.
	KindJobTimeout Kind = "job_timeout"
	// KindStaleDerivedGeometry: a Location's derived bearing/elevation/
	// distance no longer match its stored lat/lon/elevation. Recoverable:
	// the read is refused and a re-derive is scheduled.
	KindStaleDerivedGeometry Kind = "stale_derived_geometry"
	// KindCancelled: cooperative cancellation. Non-retryable.
	KindCancelled Kind = "cancelled"
)

// Error is the concrete error type carried through the pipeline. NoAlignment
// is deliberately NOT a Kind here: an empty Alignment Finder result is a
// correct, non-error return value (see alignment package).
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "astronomy.sun_horizontal"
	Err     error  // wrapped cause, may be nil
	Context map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the job queue should retry an operation that
// failed with this error, per the error-handling design: storage hiccups
// and job timeouts retry, invalid input and cancellation do not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindStorageTransient, KindEphemerisTransient, KindJobTimeout:
		return true
	default:
		return false
	}
}

// New constructs a *Error with the given kind, operation name and cause.
func New(kind Kind, op string, cause error, context map[string]interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: cause, Context: context}
}

// Is reports whether err (or any error it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// Retryable reports whether err should be retried, defaulting to false
// for errors that are not *Error (unclassified failures are treated as
// terminal rather than silently retried forever).
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
