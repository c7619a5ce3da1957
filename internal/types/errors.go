package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// ActionError      - one external call (network action or content generation)
//                    failed. The candidate is skipped, the cycle continues.
// PersistenceError - a state document could not be written. In-memory state
//                    stays authoritative until the next successful save.
//
// Cycle-level and startup errors live with the scheduler that handles them.

// ActionError wraps a failed call to an external capability.
type ActionError struct {
	Op        string // e.g. "like", "searchPosts", "generate"
	Target    string // uri, did or search term the call was about
	Permanent bool   // retrying the same call cannot succeed
	Err       error
}

func (e *ActionError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Target != "" {
		return fmt.Sprintf("%s %s failed (%s): %v", e.Op, e.Target, kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewTransient builds an ActionError that may succeed on a later attempt.
func NewTransient(op, target string, err error) *ActionError {
	return &ActionError{Op: op, Target: target, Err: err}
}

// NewPermanent builds an ActionError that will not succeed if repeated.
func NewPermanent(op, target string, err error) *ActionError {
	return &ActionError{Op: op, Target: target, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent ActionError.
func IsPermanent(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae) && ae.Permanent
}

// IsTransient reports whether err should be treated as a skipped candidate.
// Any error that is not explicitly permanent counts as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// PersistenceError reports a failed read or write of a state document.
type PersistenceError struct {
	Namespace string
	Entity    string
	Op        string // "read", "decode", "encode", "write"
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s/%s: %s: %v", e.Namespace, e.Entity, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
