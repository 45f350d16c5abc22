package repair

import (
	"errors"
	"fmt"
	"strings"

	"tbsync/internal/ops"
	"tbsync/internal/tb"
)

var (
	// ErrForeignEventMutationDenied means a patch touched a foreign event
	// without permission for that event.
	ErrForeignEventMutationDenied = errors.New("foreign event mutation denied")
	// ErrPlanOverlapViolation means two owned events of the patched plan
	// overlap.
	ErrPlanOverlapViolation = errors.New("plan overlap violation")
	// ErrRepairExhausted means no acceptable patch was produced within the
	// attempt bound. The pre-patch plan is unchanged.
	ErrRepairExhausted = errors.New("repair attempts exhausted")
	// ErrPatchDeclined means the generator explicitly declined to edit.
	ErrPatchDeclined = errors.New("patch declined")
)

// ViolationKind classifies why a proposal was rejected.
type ViolationKind string

const (
	ViolationMalformed        ViolationKind = "malformed"
	ViolationUnknownReference ViolationKind = "unknown_reference"
	ViolationForeignMutation  ViolationKind = "foreign_mutation"
	ViolationApplyFailed      ViolationKind = "apply_failed"
	ViolationUnresolvedTiming ViolationKind = "unresolved_timing"
	ViolationOverlap          ViolationKind = "overlap"
)

// Violation is one reason a proposed patch was rejected. It is fed back to
// the generator verbatim as repair context.
type Violation struct {
	Kind ViolationKind
	// OpIndex is the offending op, or -1 when the violation concerns the
	// resulting plan as a whole.
	OpIndex  int
	EventIDs []string
	Message  string
	err      error
}

func (v *Violation) Error() string {
	var b strings.Builder
	b.WriteString(string(v.Kind))
	if v.OpIndex >= 0 {
		fmt.Fprintf(&b, " (op %d)", v.OpIndex)
	}
	if len(v.EventIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(v.EventIDs, ", "))
	}
	if v.Message != "" {
		b.WriteString(": ")
		b.WriteString(v.Message)
	}
	return b.String()
}

// Unwrap maps each kind onto the sentinel callers match with errors.Is.
func (v *Violation) Unwrap() error {
	if v.err != nil {
		return v.err
	}
	switch v.Kind {
	case ViolationMalformed:
		return ops.ErrPatchMalformed
	case ViolationUnknownReference:
		return ops.ErrOpTargetNotFound
	case ViolationForeignMutation:
		return ErrForeignEventMutationDenied
	case ViolationUnresolvedTiming:
		return tb.ErrUnresolvedTiming
	case ViolationOverlap:
		return ErrPlanOverlapViolation
	default:
		return nil
	}
}

// joinViolations returns the violations as one error, nil when empty.
func joinViolations(vs []Violation) error {
	errs := make([]error, len(vs))
	for i := range vs {
		errs[i] = &vs[i]
	}
	return errors.Join(errs...)
}
