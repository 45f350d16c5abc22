package model

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// clockLayout is the short time-of-day form accepted in documents ("09:30").
const clockLayout = "15:04"

// PlanDocument is the YAML/JSON form of a Plan.
//
// Times are either RFC 3339 instants or "HH:MM" clock times interpreted on
// the plan date in the plan timezone. Events without an id get a derived one.
type PlanDocument struct {
	Date     string          `yaml:"date" json:"date"`
	Timezone string          `yaml:"timezone" json:"timezone"`
	Events   []EventDocument `yaml:"events" json:"events"`
}

// EventDocument is the YAML/JSON form of an Event.
type EventDocument struct {
	ID          string         `yaml:"id,omitempty" json:"id,omitempty"`
	Type        string         `yaml:"type" json:"type"`
	Name        string         `yaml:"name" json:"name"`
	Timing      TimingDocument `yaml:"timing" json:"timing"`
	Foreign     bool           `yaml:"foreign,omitempty" json:"foreign,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Color       string         `yaml:"color,omitempty" json:"color,omitempty"`
}

// TimingDocument is the YAML/JSON form of a Timing. Kind selects which of
// the remaining fields apply.
type TimingDocument struct {
	Kind            string `yaml:"kind" json:"kind"`
	Start           string `yaml:"start,omitempty" json:"start,omitempty"`
	End             string `yaml:"end,omitempty" json:"end,omitempty"`
	OffsetMinutes   int    `yaml:"offset_minutes,omitempty" json:"offset_minutes,omitempty"`
	DurationMinutes int    `yaml:"duration_minutes,omitempty" json:"duration_minutes,omitempty"`
}

// DecodePlan parses a plan document. YAML is a superset of JSON, so both
// encodings are accepted.
func DecodePlan(data []byte) (Plan, error) {
	var doc PlanDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Plan{}, fmt.Errorf("decoding plan document: %w", err)
	}
	return doc.Plan()
}

// EncodePlan renders a plan as a YAML document.
func EncodePlan(p Plan) ([]byte, error) {
	data, err := yaml.Marshal(DocumentFromPlan(p))
	if err != nil {
		return nil, fmt.Errorf("encoding plan document: %w", err)
	}
	return data, nil
}

// Plan converts the document, resolving clock times on the plan date and
// deriving ids for events that lack one.
func (d PlanDocument) Plan() (Plan, error) {
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return Plan{}, fmt.Errorf("invalid plan date %q: %w", d.Date, err)
	}
	p := NewPlan(d.Date, d.Timezone)
	loc, err := p.Location()
	if err != nil {
		return Plan{}, err
	}
	for i, ed := range d.Events {
		e, err := ed.Event(d.Date, loc)
		if err != nil {
			return Plan{}, fmt.Errorf("event %d: %w", i, err)
		}
		p.Events = append(p.Events, e)
	}
	p = AssignIDs(p)
	if dups := p.DuplicateIDs(); len(dups) > 0 {
		return Plan{}, fmt.Errorf("duplicate event ids: %s", strings.Join(dups, ", "))
	}
	return p, nil
}

// Event converts the document. date and loc anchor clock times.
func (d EventDocument) Event(date string, loc *time.Location) (Event, error) {
	et, err := ParseEventType(d.Type)
	if err != nil {
		return Event{}, err
	}
	if !d.Foreign && strings.TrimSpace(d.Name) == "" {
		return Event{}, fmt.Errorf("event name is required")
	}
	timing, err := d.Timing.Timing(date, loc)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          d.ID,
		Type:        et,
		Name:        d.Name,
		Timing:      timing,
		Foreign:     d.Foreign,
		Description: d.Description,
		ColorHint:   d.Color,
	}, nil
}

// Timing converts the document. date and loc anchor clock times.
func (d TimingDocument) Timing(date string, loc *time.Location) (Timing, error) {
	var t Timing
	switch TimingKind(d.Kind) {
	case TimingAfterPrevious:
		t = AfterPrevious{OffsetMinutes: d.OffsetMinutes, DurationMinutes: d.DurationMinutes}
	case TimingBeforeNext:
		t = BeforeNext{OffsetMinutes: d.OffsetMinutes, DurationMinutes: d.DurationMinutes}
	case TimingFixedStart:
		start, err := parseDocTime(d.Start, date, loc)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		t = FixedStart{Start: start, DurationMinutes: d.DurationMinutes}
	case TimingFixedWindow:
		start, err := parseDocTime(d.Start, date, loc)
		if err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		end, err := parseDocTime(d.End, date, loc)
		if err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
		t = FixedWindow{Start: start, End: end}
	default:
		return nil, fmt.Errorf("unknown timing kind: %q", d.Kind)
	}
	if err := ValidateTiming(t); err != nil {
		return nil, err
	}
	return t, nil
}

func parseDocTime(s, date string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation(DateLayout+" "+clockLayout, date+" "+s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want HH:MM or RFC 3339", s)
	}
	return t, nil
}

// DocumentFromPlan is the inverse of PlanDocument.Plan. Instants are written
// in RFC 3339 so the document does not depend on the reader's timezone.
func DocumentFromPlan(p Plan) PlanDocument {
	doc := PlanDocument{Date: p.Date, Timezone: p.Timezone, Events: make([]EventDocument, 0, len(p.Events))}
	for _, e := range p.Events {
		doc.Events = append(doc.Events, DocumentFromEvent(e))
	}
	return doc
}

// DocumentFromEvent renders a single event.
func DocumentFromEvent(e Event) EventDocument {
	return EventDocument{
		ID:          e.ID,
		Type:        string(e.Type),
		Name:        e.Name,
		Timing:      DocumentFromTiming(e.Timing),
		Foreign:     e.Foreign,
		Description: e.Description,
		Color:       e.ColorHint,
	}
}

// DocumentFromTiming renders a timing.
func DocumentFromTiming(t Timing) TimingDocument {
	switch v := t.(type) {
	case AfterPrevious:
		return TimingDocument{Kind: string(TimingAfterPrevious), OffsetMinutes: v.OffsetMinutes, DurationMinutes: v.DurationMinutes}
	case BeforeNext:
		return TimingDocument{Kind: string(TimingBeforeNext), OffsetMinutes: v.OffsetMinutes, DurationMinutes: v.DurationMinutes}
	case FixedStart:
		return TimingDocument{Kind: string(TimingFixedStart), Start: v.Start.Format(time.RFC3339), DurationMinutes: v.DurationMinutes}
	case FixedWindow:
		return TimingDocument{Kind: string(TimingFixedWindow), Start: v.Start.Format(time.RFC3339), End: v.End.Format(time.RFC3339)}
	default:
		return TimingDocument{}
	}
}
