package domain

import (
	"errors"
	"fmt"
	"testing"
)

type kindErr struct{ kind ErrorKind }

func (e kindErr) Error() string        { return string(e.kind) }
func (e kindErr) ErrorKind() ErrorKind { return e.kind }

func TestKindOfError(t *testing.T) {
	if got := KindOfError(errors.New("plain")); got != ErrorKindAPIError {
		t.Fatalf("unclassified error: got %q, want %q", got, ErrorKindAPIError)
	}

	err := fmt.Errorf("wrapped twice: %w", fmt.Errorf("once: %w", kindErr{ErrorKindTimeout}))
	if got := KindOfError(err); got != ErrorKindTimeout {
		t.Fatalf("wrapped carrier: got %q, want %q", got, ErrorKindTimeout)
	}
}
