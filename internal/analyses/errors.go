package analyses

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidInput      = errors.New("invalid input")
)

// TransitionError reports a state-guarded write rejected by the store.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationFailure describes the first hard defect in a model payload.
type ValidationFailure struct {
	Field    string
	Expected string
	Actual   string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("field %s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// transitionAllowed encodes the job state machine.
func transitionAllowed(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// sourceFor returns the only state a transition into to may start from.
func sourceFor(to Status) Status {
	if to == StatusProcessing {
		return StatusPending
	}
	return StatusProcessing
}
