package venice

import (
	"fmt"

	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// ClassifiedError wraps an upstream call error with its taxonomy kind and, when
// available, the HTTP status that produced it.
type ClassifiedError struct {
	Kind   domain.ErrorKind
	Status int
	Err    error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retryable reports whether the wrapped failure may be retried.
func (e *ClassifiedError) Retryable() bool { return e.Kind.Retryable() }

// ErrorKind implements domain.KindCarrier so callers outside this package can
// read the classification without importing the adapter's error type.
func (e *ClassifiedError) ErrorKind() domain.ErrorKind { return e.Kind }
