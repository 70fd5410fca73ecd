package engine

import (
	"errors"
	"fmt"
)

// RunError is returned by Run when a run aborts. The summary returned
// alongside it still reports everything that happened before the abort.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the aborted run.
	RunID string

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run aborts.
type RunErrorCode string

const (
	// ErrCodeEnumerate indicates the canonical or local identity set could
	// not be listed.
	ErrCodeEnumerate RunErrorCode = "ENUMERATE_FAILED"

	// ErrCodeDraftRegistry indicates the draft registry could not be loaded
	// or rebuilt.
	ErrCodeDraftRegistry RunErrorCode = "DRAFT_REGISTRY_FAILED"

	// ErrCodePersistence indicates a write to the local store or the draft
	// registry failed.
	ErrCodePersistence RunErrorCode = "PERSISTENCE_FAILED"

	// ErrCodeCancelled indicates the context was cancelled or timed out.
	ErrCodeCancelled RunErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" {
		msg += " (run=" + e.RunID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

func newRunError(code RunErrorCode, runID, message string, err error) *RunError {
	return &RunError{Code: code, Message: message, RunID: runID, Err: err}
}

// IsPersistenceError returns true if the run aborted on a failed write.
// Uses errors.As to handle wrapped errors.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsCancelled returns true if the run aborted because its context ended.
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled)
}

// IsEnumerateError returns true if the run aborted before planning.
func IsEnumerateError(err error) bool {
	return hasCode(err, ErrCodeEnumerate)
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
