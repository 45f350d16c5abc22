package ops

import (
	"fmt"
	"strings"

	"tbsync/internal/model"
)

// ApplyOps applies patch to plan in order and returns the resulting plan.
//
// Any failing op rejects the whole patch; plan itself is never modified.
// Scheduling rules such as overlap are not checked here.
func ApplyOps(plan model.Plan, patch Patch) (model.Plan, error) {
	out := plan.Clone()
	for i, op := range patch {
		var err error
		out, err = applyOp(out, i, op)
		if err != nil {
			return model.Plan{}, err
		}
	}
	return out, nil
}

// applyOp may mutate p.Events in place; ApplyOps owns p.
func applyOp(p model.Plan, index int, op Op) (model.Plan, error) {
	switch v := op.(type) {
	case AddEvents:
		return addEvents(p, index, v)
	case RemoveEvent:
		i := p.Index(v.ID)
		if v.ID == "" || i < 0 {
			return p, &TargetError{OpIndex: index, Kind: v.Kind(), ID: v.ID}
		}
		p.Events = append(p.Events[:i], p.Events[i+1:]...)
		return p, nil
	case UpdateEvent:
		i := p.Index(v.ID)
		if v.ID == "" || i < 0 {
			return p, &TargetError{OpIndex: index, Kind: v.Kind(), ID: v.ID}
		}
		updated, err := applyChanges(p.Events[i], v.Changes)
		if err != nil {
			return p, fmt.Errorf("op %d (%s %s): %w", index, v.Kind(), v.ID, err)
		}
		p.Events[i] = updated
		return p, nil
	case MoveEvent:
		i := p.Index(v.ID)
		if v.ID == "" || i < 0 {
			return p, &TargetError{OpIndex: index, Kind: v.Kind(), ID: v.ID}
		}
		if err := model.ValidateTiming(v.Timing); err != nil {
			return p, fmt.Errorf("op %d (%s %s): %w: %v", index, v.Kind(), v.ID, ErrPatchMalformed, err)
		}
		p.Events[i].Timing = v.Timing
		return p, nil
	case ReplaceAll:
		return replaceAll(p, index, v)
	default:
		return p, fmt.Errorf("op %d: %w: unsupported op %T", index, ErrPatchMalformed, op)
	}
}

func addEvents(p model.Plan, index int, op AddEvents) (model.Plan, error) {
	if len(op.Events) == 0 {
		return p, fmt.Errorf("op %d (%s): %w: no events", index, op.Kind(), ErrPatchMalformed)
	}
	for _, e := range op.Events {
		if err := checkEvent(e); err != nil {
			return p, fmt.Errorf("op %d (%s): %w", index, op.Kind(), err)
		}
		if e.ID == "" && !e.Foreign {
			start, _, _ := e.Window()
			e.ID = model.DeriveEventID(p.Date, e.Name, start, len(p.Events))
		}
		if e.ID == "" || p.Index(e.ID) >= 0 {
			return p, fmt.Errorf("op %d (%s): %w: %q", index, op.Kind(), ErrEventIDCollision, e.ID)
		}
		p.Events = append(p.Events, e)
	}
	return p, nil
}

func replaceAll(p model.Plan, index int, op ReplaceAll) (model.Plan, error) {
	next := op.Plan.Clone()
	if next.Date == "" {
		next.Date = p.Date
	}
	if next.Timezone == "" {
		next.Timezone = p.Timezone
	}
	for _, e := range next.Events {
		if err := checkEvent(e); err != nil {
			return p, fmt.Errorf("op %d (%s): %w", index, op.Kind(), err)
		}
	}
	next = model.AssignIDs(next)
	if dups := next.DuplicateIDs(); len(dups) > 0 {
		return p, fmt.Errorf("op %d (%s): %w: %s", index, op.Kind(), ErrEventIDCollision, strings.Join(dups, ", "))
	}
	return next, nil
}

func applyChanges(e model.Event, c FieldChanges) (model.Event, error) {
	if c.Empty() {
		return e, fmt.Errorf("%w: no field changes", ErrPatchMalformed)
	}
	if c.Name != nil {
		e.Name = *c.Name
	}
	if c.Type != nil {
		e.Type = *c.Type
	}
	if c.Description != nil {
		e.Description = *c.Description
	}
	if c.ColorHint != nil {
		e.ColorHint = *c.ColorHint
	}
	if c.Timing != nil {
		e.Timing = c.Timing
	}
	return e, checkEvent(e)
}

// checkEvent rejects events that no plan document could have produced.
func checkEvent(e model.Event) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: event name is required", ErrPatchMalformed)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrPatchMalformed, e.Type)
	}
	if err := model.ValidateTiming(e.Timing); err != nil {
		return fmt.Errorf("%w: %v", ErrPatchMalformed, err)
	}
	return nil
}
