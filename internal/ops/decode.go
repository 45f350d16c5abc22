package ops

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"tbsync/internal/model"
)

// PatchDocument is the YAML/JSON form of a Patch:
//
//	ops:
//	  - op: move_event
//	    id: fftb...
//	    timing: {kind: fixed_window, start: "10:00", end: "11:00"}
type PatchDocument struct {
	Ops []OpDocument `yaml:"ops" json:"ops"`
}

// OpDocument is one op. Op selects which of the remaining fields apply.
type OpDocument struct {
	Op      string                `yaml:"op" json:"op"`
	ID      string                `yaml:"id,omitempty" json:"id,omitempty"`
	Events  []model.EventDocument `yaml:"events,omitempty" json:"events,omitempty"`
	Changes *ChangesDocument      `yaml:"changes,omitempty" json:"changes,omitempty"`
	Timing  *model.TimingDocument `yaml:"timing,omitempty" json:"timing,omitempty"`
	Plan    *model.PlanDocument   `yaml:"plan,omitempty" json:"plan,omitempty"`
}

// ChangesDocument is the field set of an update_event op.
type ChangesDocument struct {
	Name        *string               `yaml:"name,omitempty" json:"name,omitempty"`
	Type        *string               `yaml:"type,omitempty" json:"type,omitempty"`
	Description *string               `yaml:"description,omitempty" json:"description,omitempty"`
	Color       *string               `yaml:"color,omitempty" json:"color,omitempty"`
	Timing      *model.TimingDocument `yaml:"timing,omitempty" json:"timing,omitempty"`
}

// DecodePatch parses a patch document proposed against plan. Clock times are
// anchored on the plan's date and timezone. Every schema failure wraps
// ErrPatchMalformed.
func DecodePatch(data []byte, plan model.Plan) (Patch, error) {
	var doc PatchDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchMalformed, err)
	}
	return doc.Patch(plan)
}

// Patch converts the document against plan.
func (d PatchDocument) Patch(plan model.Plan) (Patch, error) {
	loc, err := plan.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatchMalformed, err)
	}
	patch := make(Patch, 0, len(d.Ops))
	for i, od := range d.Ops {
		op, err := od.op(plan.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: op %d: %v", ErrPatchMalformed, i, err)
		}
		patch = append(patch, op)
	}
	return patch, nil
}

func (d OpDocument) op(date string, loc *time.Location) (Op, error) {
	switch Kind(d.Op) {
	case KindAddEvents:
		events := make([]model.Event, 0, len(d.Events))
		for j, ed := range d.Events {
			e, err := ed.Event(date, loc)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", j, err)
			}
			events = append(events, e)
		}
		return AddEvents{Events: events}, nil
	case KindRemoveEvent:
		if d.ID == "" {
			return nil, fmt.Errorf("remove_event requires an id")
		}
		return RemoveEvent{ID: d.ID}, nil
	case KindUpdateEvent:
		if d.ID == "" || d.Changes == nil {
			return nil, fmt.Errorf("update_event requires an id and changes")
		}
		changes, err := d.Changes.changes(date, loc)
		if err != nil {
			return nil, err
		}
		return UpdateEvent{ID: d.ID, Changes: changes}, nil
	case KindMoveEvent:
		if d.ID == "" || d.Timing == nil {
			return nil, fmt.Errorf("move_event requires an id and timing")
		}
		t, err := d.Timing.Timing(date, loc)
		if err != nil {
			return nil, err
		}
		return MoveEvent{ID: d.ID, Timing: t}, nil
	case KindReplaceAll:
		if d.Plan == nil {
			return nil, fmt.Errorf("replace_all requires a plan")
		}
		doc := *d.Plan
		if doc.Date == "" {
			doc.Date = date
		}
		if doc.Timezone == "" {
			doc.Timezone = loc.String()
		}
		p, err := doc.Plan()
		if err != nil {
			return nil, err
		}
		return ReplaceAll{Plan: p}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", d.Op)
	}
}

func (d ChangesDocument) changes(date string, loc *time.Location) (FieldChanges, error) {
	c := FieldChanges{Name: d.Name, Description: d.Description, ColorHint: d.Color}
	if d.Type != nil {
		et, err := model.ParseEventType(*d.Type)
		if err != nil {
			return FieldChanges{}, err
		}
		c.Type = &et
	}
	if d.Timing != nil {
		t, err := d.Timing.Timing(date, loc)
		if err != nil {
			return FieldChanges{}, err
		}
		c.Timing = t
	}
	if c.Empty() {
		return FieldChanges{}, fmt.Errorf("update_event changes are empty")
	}
	return c, nil
}
