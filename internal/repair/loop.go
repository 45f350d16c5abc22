// Package repair puts an untrusted patch generator behind a deterministic
// validator and retries with the violations as feedback.
package repair

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tbsync/internal/model"
	"tbsync/internal/ops"
	"tbsync/internal/tb"
)

// DefaultMaxAttempts bounds the proposals requested by one Run.
const DefaultMaxAttempts = 5

// Loop asks a Generator for patches until one validates or the attempt
// bound is reached.
type Loop struct {
	generator   Generator
	validator   Validator
	constraints tb.ConstraintSource
	maxAttempts int
	logger      tb.Logger
	tracer      trace.Tracer
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxAttempts sets the attempt bound. Values below 1 keep the default.
func WithMaxAttempts(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithConstraints sets where planning constraints are read from.
func WithConstraints(src tb.ConstraintSource) Option {
	return func(l *Loop) { l.constraints = src }
}

// WithAllowedForeign permits the generator to modify the listed foreign events.
func WithAllowedForeign(ids ...string) Option {
	return func(l *Loop) {
		if l.validator.AllowForeign == nil {
			l.validator.AllowForeign = make(map[string]bool)
		}
		for _, id := range ids {
			l.validator.AllowForeign[id] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger tb.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a Loop over generator.
func NewLoop(generator Generator, opts ...Option) *Loop {
	l := &Loop{
		generator:   generator,
		constraints: tb.StaticConstraints(nil),
		maxAttempts: DefaultMaxAttempts,
		logger:      tb.NewNopLogger(),
		tracer:      otel.Tracer("tbsync/internal/repair"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Result is an accepted edit.
type Result struct {
	Plan     model.Plan
	Patch    ops.Patch
	Attempts int
}

// Run requests patches for plan until one validates.
//
// Rejected proposals are fed back as PriorViolations on the next request.
// When the bound is reached the returned error wraps ErrRepairExhausted and
// the violations of the last attempt. A decline stops the loop with
// ErrPatchDeclined. plan is never modified.
func (l *Loop) Run(ctx context.Context, plan model.Plan, feedback string) (Result, error) {
	ctx, span := l.tracer.Start(ctx, "repair.Run",
		trace.WithAttributes(attribute.String("tb.date", plan.Date), attribute.Int("repair.max_attempts", l.maxAttempts)))
	defer span.End()

	constraints, err := l.constraints.Constraints(ctx, plan.Date)
	if err != nil {
		l.logger.Warn("constraints unavailable, continuing without", "date", plan.Date, "error", err)
		constraints = nil
	}

	var prior []Violation
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("repair interrupted: %w", err)
		}
		proposal, err := l.generator.Generate(ctx, Request{
			Plan:            plan.Clone(),
			Feedback:        feedback,
			Constraints:     constraints,
			PriorViolations: prior,
			Attempt:         attempt,
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, fmt.Errorf("generating patch (attempt %d): %w", attempt, err)
		}
		if proposal.Declined {
			l.logger.Info("generator declined", "attempt", attempt, "reason", proposal.Reason)
			return Result{}, fmt.Errorf("%w: %s", ErrPatchDeclined, proposal.Reason)
		}

		patch, next, violations := l.check(plan, proposal)
		if len(violations) == 0 {
			span.SetAttributes(attribute.Int("repair.attempts", attempt))
			l.logger.Info("patch accepted", "attempt", attempt, "date", plan.Date, "ops", len(patch))
			return Result{Plan: next, Patch: patch, Attempts: attempt}, nil
		}
		for _, v := range violations {
			l.logger.Warn("patch rejected", "attempt", attempt, "violation", v.Error())
		}
		prior = violations
	}

	err = fmt.Errorf("%w after %d attempts: %w", ErrRepairExhausted, l.maxAttempts, joinViolations(prior))
	span.SetStatus(codes.Error, err.Error())
	return Result{}, err
}

// check decodes the proposal if needed and validates it against plan.
func (l *Loop) check(plan model.Plan, proposal Proposal) (ops.Patch, model.Plan, []Violation) {
	patch := proposal.Patch
	if patch == nil {
		if len(proposal.Document) == 0 {
			return nil, model.Plan{}, []Violation{{Kind: ViolationMalformed, OpIndex: -1, Message: "proposal carries no patch"}}
		}
		var err error
		if patch, err = ops.DecodePatch(proposal.Document, plan); err != nil {
			return nil, model.Plan{}, []Violation{{Kind: ViolationMalformed, OpIndex: -1, Message: err.Error(), err: err}}
		}
	}
	if len(patch) == 0 {
		return nil, model.Plan{}, []Violation{{Kind: ViolationMalformed, OpIndex: -1, Message: "patch has no ops"}}
	}
	next, violations := l.validator.Validate(plan, patch)
	return patch, next, violations
}

// Edit runs the loop and returns only the accepted plan. It lets a Loop
// serve as a tb.Editor.
func (l *Loop) Edit(ctx context.Context, plan model.Plan, feedback string) (model.Plan, error) {
	res, err := l.Run(ctx, plan, feedback)
	if err != nil {
		return model.Plan{}, err
	}
	return res.Plan, nil
}

var _ tb.Editor = (*Loop)(nil)
