package repair

import (
	"context"

	"tbsync/internal/model"
	"tbsync/internal/ops"
)

// Request is everything a generator is given to propose an edit.
type Request struct {
	Plan        model.Plan
	Feedback    string
	Constraints []string
	// PriorViolations lists why the previous proposal of this run was
	// rejected. Empty on the first attempt.
	PriorViolations []Violation
	Attempt         int
}

// Proposal is a generator's answer: a patch, a patch document still to be
// decoded, or an explicit decline.
type Proposal struct {
	Patch ops.Patch
	// Document is a YAML/JSON patch document, decoded against the request
	// plan when Patch is nil. Schema failures are repairable.
	Document []byte
	Declined bool
	Reason   string
}

// Generator proposes patches. Implementations are non-deterministic and
// untrusted: every proposal is validated before it is accepted.
type Generator interface {
	Generate(ctx context.Context, req Request) (Proposal, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (Proposal, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Proposal, error) {
	return f(ctx, req)
}
