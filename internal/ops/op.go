// Package ops holds the patch operators for a day plan and the pure reducer
// that applies them.
package ops

import (
	"fmt"

	"tbsync/internal/model"
)

// Kind names an Op variant on the wire.
type Kind string

const (
	KindAddEvents   Kind = "add_events"
	KindRemoveEvent Kind = "remove_event"
	KindUpdateEvent Kind = "update_event"
	KindMoveEvent   Kind = "move_event"
	KindReplaceAll  Kind = "replace_all"
)

// Op is one plan mutation.
//
// This is a sealed interface: the marker method keeps implementations inside
// this package so consumers can switch over AddEvents, RemoveEvent,
// UpdateEvent, MoveEvent and ReplaceAll exhaustively.
type Op interface {
	Kind() Kind
	opNode()
}

// AddEvents appends events to the end of the plan. Events without an id get
// a derived one.
type AddEvents struct {
	Events []model.Event
}

// RemoveEvent drops the event with the given id.
type RemoveEvent struct {
	ID string
}

// UpdateEvent changes selected fields of one event. Nil fields are left
// untouched.
type UpdateEvent struct {
	ID      string
	Changes FieldChanges
}

// FieldChanges lists the fields an UpdateEvent may set.
type FieldChanges struct {
	Name        *string
	Type        *model.EventType
	Description *string
	ColorHint   *string
	Timing      model.Timing
}

// Empty reports whether no field is set.
func (c FieldChanges) Empty() bool {
	return c.Name == nil && c.Type == nil && c.Description == nil && c.ColorHint == nil && c.Timing == nil
}

// MoveEvent gives one event a new timing.
type MoveEvent struct {
	ID     string
	Timing model.Timing
}

// ReplaceAll swaps the whole event sequence, and the date and timezone when
// the replacement plan sets them.
type ReplaceAll struct {
	Plan model.Plan
}

func (AddEvents) Kind() Kind   { return KindAddEvents }
func (RemoveEvent) Kind() Kind { return KindRemoveEvent }
func (UpdateEvent) Kind() Kind { return KindUpdateEvent }
func (MoveEvent) Kind() Kind   { return KindMoveEvent }
func (ReplaceAll) Kind() Kind  { return KindReplaceAll }

func (AddEvents) opNode()   {}
func (RemoveEvent) opNode() {}
func (UpdateEvent) opNode() {}
func (MoveEvent) opNode()   {}
func (ReplaceAll) opNode()  {}

// Patch is an ordered list of ops proposed as one edit. Each op sees the
// effect of the ones before it.
type Patch []Op

// Target returns the id an op refers to, or "" for ops that address no
// existing event.
func Target(op Op) string {
	switch v := op.(type) {
	case RemoveEvent:
		return v.ID
	case UpdateEvent:
		return v.ID
	case MoveEvent:
		return v.ID
	default:
		return ""
	}
}

// Describe renders an op for logs and generator feedback.
func Describe(op Op) string {
	switch v := op.(type) {
	case AddEvents:
		names := make([]string, 0, len(v.Events))
		for _, e := range v.Events {
			names = append(names, e.Name)
		}
		return fmt.Sprintf("add_events %q", names)
	case RemoveEvent:
		return fmt.Sprintf("remove_event %s", v.ID)
	case UpdateEvent:
		return fmt.Sprintf("update_event %s", v.ID)
	case MoveEvent:
		return fmt.Sprintf("move_event %s", v.ID)
	case ReplaceAll:
		return fmt.Sprintf("replace_all (%d events)", len(v.Plan.Events))
	default:
		return fmt.Sprintf("unknown op %T", op)
	}
}
