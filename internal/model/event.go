package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of Plan.Date.
const DateLayout = "2006-01-02"

// EventType is the closed set of block categories a plan is built from.
type EventType string

const (
	EventTypeMeeting     EventType = "meeting"
	EventTypeCommute     EventType = "commute"
	EventTypeDeepWork    EventType = "deep_work"
	EventTypeShallowWork EventType = "shallow_work"
	EventTypePersonal    EventType = "personal"
	EventTypeHabit       EventType = "habit"
	EventTypeRecovery    EventType = "recovery"
	EventTypeBuffer      EventType = "buffer"
	EventTypeBackground  EventType = "background"
)

// EventTypes lists every EventType in declaration order.
var EventTypes = []EventType{
	EventTypeMeeting,
	EventTypeCommute,
	EventTypeDeepWork,
	EventTypeShallowWork,
	EventTypePersonal,
	EventTypeHabit,
	EventTypeRecovery,
	EventTypeBuffer,
	EventTypeBackground,
}

// ParseEventType accepts the canonical snake_case name, case-insensitively.
// Hyphens and spaces are treated as underscores ("Deep Work" -> deep_work).
func ParseEventType(s string) (EventType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, t := range EventTypes {
		if string(t) == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type: %q", s)
}

// Valid reports whether t is one of the declared event types.
func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Event is a single block of a day plan.
//
// Events whose ID carries IDPrefix were created by this engine. Foreign events
// pre-existed on the remote calendar and are read-only anchors.
type Event struct {
	ID          string
	Type        EventType
	Name        string
	Timing      Timing
	Foreign     bool
	Description string
	ColorHint   string
}

// Window returns the event's absolute [start, end) when its timing resolves
// without reference to sibling events.
func (e Event) Window() (time.Time, time.Time, bool) {
	return ResolveWindow(e.Timing)
}

// Color returns the explicit color hint, falling back to the type's color.
func (e Event) Color() string {
	if e.ColorHint != "" {
		return e.ColorHint
	}
	return e.Type.Color()
}

// Owned reports whether the event was created by this engine.
func (e Event) Owned() bool {
	return !e.Foreign && IsOwnedID(e.ID)
}

// Plan is one day's ordered sequence of events.
type Plan struct {
	Date     string // YYYY-MM-DD
	Timezone string // IANA name
	Events   []Event
}

// NewPlan returns an empty plan for the given date and timezone.
func NewPlan(date, timezone string) Plan {
	return Plan{Date: date, Timezone: timezone, Events: []Event{}}
}

// Clone returns a copy whose event slice can be mutated without affecting p.
// Timing values are immutable, so a shallow copy of each event suffices.
func (p Plan) Clone() Plan {
	events := make([]Event, len(p.Events))
	copy(events, p.Events)
	return Plan{Date: p.Date, Timezone: p.Timezone, Events: events}
}

// Location loads the plan's timezone. An empty timezone means UTC.
func (p Plan) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// Window returns the [midnight, next midnight) range covered by the plan's date.
func (p Plan) Window() (Window, error) {
	loc, err := p.Location()
	if err != nil {
		return Window{}, err
	}
	day, err := time.ParseInLocation(DateLayout, p.Date, loc)
	if err != nil {
		return Window{}, fmt.Errorf("parsing plan date %q: %w", p.Date, err)
	}
	return Window{Start: day, End: day.AddDate(0, 0, 1)}, nil
}

// Index returns the position of the event with the given id, or -1.
func (p Plan) Index(id string) int {
	for i, e := range p.Events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the event with the given id.
func (p Plan) Find(id string) (Event, bool) {
	if i := p.Index(id); i >= 0 {
		return p.Events[i], true
	}
	return Event{}, false
}

// DuplicateIDs returns ids that occur more than once, in first-seen order.
func (p Plan) DuplicateIDs() []string {
	seen := make(map[string]int, len(p.Events))
	var dups []string
	for _, e := range p.Events {
		seen[e.ID]++
		if seen[e.ID] == 2 {
			dups = append(dups, e.ID)
		}
	}
	return dups
}

// Window is a half-open time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open ranges intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}
