package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure so the scheduler can pick the right
// response: transient failures feed the retry backoff, permanent failures
// disable the entity.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error wraps a fetch failure with its classification and, when the failure
// came from an HTTP response, the status code.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient: network-level failures arrive unwrapped and retrying
// them is the safe default.
func IsTransient(err error) bool {
	return !IsPermanent(err)
}

// IsPermanent reports whether err means the entity cannot be polled again
// without operator intervention.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}
