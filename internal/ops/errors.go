package ops

import (
	"errors"
	"fmt"
)

var (
	// ErrOpTargetNotFound means an op names an event id absent from the plan.
	ErrOpTargetNotFound = errors.New("op target not found")
	// ErrEventIDCollision means an added or replacing event reuses an id.
	ErrEventIDCollision = errors.New("event id collision")
	// ErrPatchMalformed means a patch does not fit the op schema.
	ErrPatchMalformed = errors.New("patch malformed")
)

// TargetError records which op referenced a missing event.
type TargetError struct {
	OpIndex int
	Kind    Kind
	ID      string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("op %d (%s): event %q not found", e.OpIndex, e.Kind, e.ID)
}

func (e *TargetError) Unwrap() error { return ErrOpTargetNotFound }
