package offlinecache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a lifecycle transition is requested
	// from the wrong state.
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrNotActive is returned by operations that need an activated worker.
	ErrNotActive = errors.New("worker is not active")
)

// TransitionError describes a refused lifecycle transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}
