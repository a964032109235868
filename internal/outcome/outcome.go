// Package outcome is the error taxonomy shared by the engine components.
//
// Every guarded operation returns nil or an error wrapping exactly one of the
// sentinels below. Of classifies an error so callers can react without string
// matching; the collaborator boundary collapses everything but OK into a plain
// failure signal.
package outcome

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation means the operation would put two jobs in motion
	// or give an asset a second custodian.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidTransition means the current derived state does not allow the operation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidArgument means the request itself is unusable (quantity, category, ...).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound means a referenced job, asset, checkout or consumable does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStore means the local store failed; nothing was written.
	ErrStore = errors.New("store failure")
)

// Outcome classifies the result of an operation.
type Outcome int

const (
	OK Outcome = iota
	Rejected
	NotFound
	StoreFailure
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not_found"
	case StoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Of classifies err. Unrecognised errors count as store failures.
func Of(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrInvariantViolation),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidArgument):
		return Rejected
	default:
		return StoreFailure
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return Of(err) == StoreFailure
}

// Wrap passes errors that already carry a sentinel through unchanged and
// classifies anything else as a store failure.
func Wrap(err error) error {
	if err == nil || Of(err) != StoreFailure || errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}
