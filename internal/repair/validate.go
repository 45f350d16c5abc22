package repair

import (
	"errors"
	"fmt"
	"sort"

	"tbsync/internal/model"
	"tbsync/internal/ops"
)

// Validator checks a patch against the plan it was proposed for.
//
// A patch is accepted when every id it references exists in the pre-patch
// plan, it leaves foreign events alone (unless permitted per event), it
// applies cleanly, every owned event of the result has an absolute window,
// and no two owned events of the result overlap.
type Validator struct {
	// AllowForeign lists foreign event ids the patch may modify or remove.
	AllowForeign map[string]bool
}

// Validate applies patch to before and returns the resulting plan. When any
// check fails the violations are returned and the plan is the zero value.
func (v Validator) Validate(before model.Plan, patch ops.Patch) (model.Plan, []Violation) {
	var violations []Violation
	violations = append(violations, v.checkReferences(before, patch)...)
	violations = append(violations, v.checkForeign(before, patch)...)
	if len(violations) > 0 {
		return model.Plan{}, violations
	}

	after, err := ops.ApplyOps(before, patch)
	if err != nil {
		return model.Plan{}, []Violation{applyViolation(err)}
	}

	resolved := model.ResolveTimings(after)
	violations = append(violations, checkResolved(resolved)...)
	violations = append(violations, checkOverlaps(resolved)...)
	if len(violations) > 0 {
		return model.Plan{}, violations
	}
	return after, nil
}

// checkReferences rejects ops naming ids unknown to the pre-patch plan,
// which usually means the generator worked from a stale plan.
func (v Validator) checkReferences(before model.Plan, patch ops.Patch) []Violation {
	var out []Violation
	for i, op := range patch {
		id := ops.Target(op)
		if id == "" {
			if op.Kind() != ops.KindAddEvents && op.Kind() != ops.KindReplaceAll {
				out = append(out, Violation{Kind: ViolationUnknownReference, OpIndex: i, Message: "op names no event id"})
			}
			continue
		}
		if before.Index(id) < 0 {
			out = append(out, Violation{
				Kind:     ViolationUnknownReference,
				OpIndex:  i,
				EventIDs: []string{id},
				Message:  fmt.Sprintf("%s references an event that is not in the plan", ops.Describe(op)),
			})
		}
	}
	return out
}

// checkForeign rejects any op that would change, drop or fabricate a
// foreign event.
func (v Validator) checkForeign(before model.Plan, patch ops.Patch) []Violation {
	var out []Violation
	deny := func(i int, id, msg string) {
		out = append(out, Violation{Kind: ViolationForeignMutation, OpIndex: i, EventIDs: []string{id}, Message: msg})
	}
	for i, op := range patch {
		switch o := op.(type) {
		case ops.UpdateEvent, ops.MoveEvent, ops.RemoveEvent:
			id := ops.Target(o)
			if e, ok := before.Find(id); ok && e.Foreign && !v.AllowForeign[id] {
				deny(i, id, fmt.Sprintf("%s touches foreign event %q", ops.Describe(o), e.Name))
			}
		case ops.AddEvents:
			for _, e := range o.Events {
				if e.Foreign {
					deny(i, e.ID, fmt.Sprintf("cannot add foreign event %q", e.Name))
				}
			}
		case ops.ReplaceAll:
			for _, e := range before.Events {
				if !e.Foreign || v.AllowForeign[e.ID] {
					continue
				}
				next, ok := o.Plan.Find(e.ID)
				switch {
				case !ok:
					deny(i, e.ID, fmt.Sprintf("replace_all drops foreign event %q", e.Name))
				case !sameForeign(e, next):
					deny(i, e.ID, fmt.Sprintf("replace_all changes foreign event %q", e.Name))
				}
			}
			for _, e := range o.Plan.Events {
				if e.Foreign && before.Index(e.ID) < 0 {
					deny(i, e.ID, fmt.Sprintf("cannot add foreign event %q", e.Name))
				}
			}
		}
	}
	return out
}

// sameForeign reports whether a foreign event survived a replacement
// unchanged in every field the calendar holds.
func sameForeign(a, b model.Event) bool {
	if !b.Foreign || a.Name != b.Name || a.Type != b.Type || a.Description != b.Description || a.ColorHint != b.ColorHint {
		return false
	}
	as, ae, aok := a.Window()
	bs, be, bok := b.Window()
	return aok == bok && as.Equal(bs) && ae.Equal(be)
}

func applyViolation(err error) Violation {
	v := Violation{Kind: ViolationApplyFailed, OpIndex: -1, Message: err.Error(), err: err}
	var te *ops.TargetError
	if errors.As(err, &te) {
		v.Kind = ViolationUnknownReference
		v.OpIndex = te.OpIndex
		v.EventIDs = []string{te.ID}
	} else if errors.Is(err, ops.ErrPatchMalformed) {
		v.Kind = ViolationMalformed
	}
	return v
}

func checkResolved(p model.Plan) []Violation {
	var out []Violation
	for _, e := range p.Events {
		if e.Foreign {
			continue
		}
		if _, _, ok := e.Window(); !ok {
			out = append(out, Violation{
				Kind:     ViolationUnresolvedTiming,
				OpIndex:  -1,
				EventIDs: []string{e.ID},
				Message:  fmt.Sprintf("%q has a relative timing with no fixed neighbour", e.Name),
			})
		}
	}
	return out
}

type span struct {
	event      model.Event
	start, end int64
}

// checkOverlaps reports every pair of owned events whose windows intersect.
func checkOverlaps(p model.Plan) []Violation {
	var spans []span
	for _, e := range p.Events {
		if e.Foreign {
			continue
		}
		if s, en, ok := e.Window(); ok {
			spans = append(spans, span{event: e, start: s.UnixNano(), end: en.UnixNano()})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out []Violation
	for i := range spans {
		for j := i + 1; j < len(spans) && spans[j].start < spans[i].end; j++ {
			a, b := spans[i].event, spans[j].event
			out = append(out, Violation{
				Kind:     ViolationOverlap,
				OpIndex:  -1,
				EventIDs: []string{a.ID, b.ID},
				Message:  fmt.Sprintf("%q overlaps %q", a.Name, b.Name),
			})
		}
	}
	return out
}
