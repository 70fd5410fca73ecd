// Package fault classifies failures seen while synchronising the corpus.
//
// Per-document failures (Transient, NotFound, Malformed) are isolated to
// the document; Persistence failures end the run.
package fault

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/corpussync/internal/doi"
)

// Kind categorizes an Error.
type Kind string

const (
	// KindTransient covers timeouts, connection failures and 5xx/429
	// responses. Retried with backoff.
	KindTransient Kind = "TRANSIENT"

	// KindNotFound means the registry does not know the identity. Not
	// retried, not counted as a failure.
	KindNotFound Kind = "NOT_FOUND"

	// KindMalformed means the content could not be decoded. Not retried.
	KindMalformed Kind = "MALFORMED"

	// KindPersistence means the local store rejected a write.
	KindPersistence Kind = "PERSISTENCE"
)

// Error is a classified failure for one identity and operation.
type Error struct {
	Kind Kind
	DOI  doi.DOI
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.DOI != "" {
		msg += " " + string(e.DOI)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is/As on the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op string, id doi.DOI, err error) *Error {
	return &Error{Kind: kind, Op: op, DOI: id, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(op string, id doi.DOI, err error) *Error {
	return New(KindTransient, op, id, err)
}

// NotFound reports an identity unknown to the registry.
func NotFound(op string, id doi.DOI) *Error {
	return New(KindNotFound, op, id, nil)
}

// Malformed wraps a decode failure.
func Malformed(op string, id doi.DOI, err error) *Error {
	return New(KindMalformed, op, id, err)
}

// Persistence wraps a local write failure.
func Persistence(op string, id doi.DOI, err error) *Error {
	return New(KindPersistence, op, id, err)
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors (timeouts, connection resets) are Transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsRetryable reports whether err is worth another attempt.
// A cancelled context is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsNotFound uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return is(err, KindNotFound)
}

// IsMalformed uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	return is(err, KindMalformed)
}

// IsPersistence uses errors.As to handle wrapped errors.
func IsPersistence(err error) bool {
	return is(err, KindPersistence)
}

// IsTransient uses errors.As to handle wrapped errors.
func IsTransient(err error) bool {
	return is(err, KindTransient)
}

func is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// Describe renders err for summaries: "KIND: message".
func Describe(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return fmt.Sprintf("%s: %v", KindOf(err), err)
}
