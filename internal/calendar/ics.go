package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"tbsync/internal/model"
	"tbsync/internal/tb"
)

// Extension properties recording what the engine knows about its own events.
const (
	propLocalID = ical.ComponentProperty("X-TB-ID")
	propType    = ical.ComponentProperty("X-TB-TYPE")
)

const (
	icalTimestampUTC   = "20060102T150405Z"
	icalTimestampLocal = "20060102T150405"
	icalDate           = "20060102"

	maxOccurrencesPerEvent = 5000
)

// ICSCalendar stores each calendar as one iCalendar file:
//
//	<dir>/
//	  <calendarID>.ics
//
// Every write rewrites the whole file through a temp file and rename. Events
// with an RRULE are expanded into read-only occurrences on listing.
type ICSCalendar struct {
	dir    string
	clock  tb.Clock
	logger tb.Logger
	mu     sync.Mutex
}

// NewICSCalendar creates an ICS calendar store rooted at dir.
func NewICSCalendar(dir string, clock tb.Clock, logger tb.Logger) (*ICSCalendar, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create calendar directory: %w", err)
	}
	return &ICSCalendar{dir: dir, clock: clock, logger: logger}, nil
}

// Path returns the file backing calendarID.
func (c *ICSCalendar) Path(calendarID string) string {
	return filepath.Join(c.dir, calendarID+".ics")
}

// ListEvents returns the events and recurring occurrences overlapping window.
func (c *ICSCalendar) ListEvents(_ context.Context, calendarID string, window model.Window) ([]tb.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(calendarID)
	if err != nil {
		return nil, err
	}

	loc := window.Start.Location()
	overrides := make(map[string][]*ical.VEvent)
	for _, ve := range cal.Events() {
		if ve.HasProperty(ical.ComponentPropertyRecurrenceId) {
			overrides[ve.Id()] = append(overrides[ve.Id()], ve)
		}
	}

	var out []tb.RawEvent
	for _, ve := range cal.Events() {
		if ve.HasProperty(ical.ComponentPropertyRecurrenceId) {
			continue
		}
		ev, err := rawFromVEvent(ve)
		if err != nil {
			c.logger.Warn("skipping unreadable event", "calendar", calendarID, "uid", ve.Id(), "error", err)
			continue
		}
		if rule := ve.GetProperty(ical.ComponentPropertyRrule); rule != nil {
			occ, err := expand(ve, ev, rule.Value, overrides[ev.RemoteID], window)
			if err != nil {
				c.logger.Warn("skipping unexpandable recurring event", "calendar", calendarID, "uid", ev.RemoteID, "error", err)
				continue
			}
			for _, o := range occ {
				o.Start, o.End = o.Start.In(loc), o.End.In(loc)
				out = append(out, o)
			}
			continue
		}
		if inWindow(window, ev.Start, ev.End) {
			ev.Start, ev.End = ev.Start.In(loc), ev.End.In(loc)
			out = append(out, ev)
		}
	}
	byID := make(map[string]tb.RawEvent, len(out))
	for _, ev := range out {
		byID[ev.RemoteID] = ev
	}
	return sorted(byID, nil), nil
}

// CreateEvent appends a new VEVENT and returns its UID.
func (c *ICSCalendar) CreateEvent(_ context.Context, calendarID string, payload tb.EventPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(calendarID)
	if err != nil {
		return "", err
	}
	uid := uuid.NewString()
	now := c.clock.Now()
	ve := cal.AddEvent(uid)
	ve.SetCreatedTime(now)
	ve.SetSequence(0)
	c.fill(ve, payload, now)
	if err := c.save(calendarID, cal); err != nil {
		return "", err
	}
	return uid, nil
}

// UpdateEvent overwrites the engine-controlled properties of a VEVENT and
// bumps its SEQUENCE.
func (c *ICSCalendar) UpdateEvent(_ context.Context, calendarID, remoteID string, payload tb.EventPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(calendarID)
	if err != nil {
		return err
	}
	ve := findEvent(cal, remoteID)
	if ve == nil {
		return fmt.Errorf("event %s: %w", remoteID, tb.ErrRemoteNotFound)
	}
	ve.SetSequence(sequence(ve) + 1)
	c.fill(ve, payload, c.clock.Now())
	return c.save(calendarID, cal)
}

// DeleteEvent removes a VEVENT.
func (c *ICSCalendar) DeleteEvent(_ context.Context, calendarID, remoteID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(calendarID)
	if err != nil {
		return err
	}
	if findEvent(cal, remoteID) == nil {
		return fmt.Errorf("event %s: %w", remoteID, tb.ErrRemoteNotFound)
	}
	cal.RemoveEvent(remoteID)
	return c.save(calendarID, cal)
}

// LookupEvent finds the VEVENT carrying localID.
func (c *ICSCalendar) LookupEvent(_ context.Context, calendarID, localID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cal, err := c.load(calendarID)
	if err != nil {
		return "", false, err
	}
	for _, ve := range cal.Events() {
		if p := ve.GetProperty(propLocalID); p != nil && p.Value == localID {
			return ve.Id(), true, nil
		}
	}
	return "", false, nil
}

func (c *ICSCalendar) fill(ve *ical.VEvent, p tb.EventPayload, now time.Time) {
	ve.SetSummary(p.Title)
	ve.SetStartAt(p.Start)
	ve.SetEndAt(p.End)
	ve.SetDtStampTime(now)
	ve.SetModifiedAt(now)
	setOrRemove(ve, ical.ComponentPropertyDescription, p.Description)
	setOrRemove(ve, ical.ComponentPropertyColor, p.Color)
	setOrRemove(ve, propLocalID, p.ID)
	setOrRemove(ve, propType, string(p.Type))
}

func setOrRemove(ve *ical.VEvent, prop ical.ComponentProperty, value string) {
	if value == "" {
		ve.RemoveProperty(prop)
		return
	}
	ve.SetProperty(prop, value)
}

// load parses the calendar file. A missing file is an empty calendar.
func (c *ICSCalendar) load(calendarID string) (*ical.Calendar, error) {
	f, err := os.Open(c.Path(calendarID))
	if err != nil {
		if os.IsNotExist(err) {
			cal := ical.NewCalendarFor("tbsync")
			cal.SetXWRCalName(calendarID)
			return cal, nil
		}
		return nil, fmt.Errorf("failed to open calendar: %w", err)
	}
	defer f.Close()

	cal, err := ical.ParseCalendar(f)
	if err != nil {
		return nil, fmt.Errorf("parsing calendar %s: %w", calendarID, err)
	}
	return cal, nil
}

// save writes the calendar file using atomic write (temp file + rename).
func (c *ICSCalendar) save(calendarID string, cal *ical.Calendar) error {
	tmpFile, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := cal.SerializeTo(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.Path(calendarID)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func findEvent(cal *ical.Calendar, uid string) *ical.VEvent {
	for _, ve := range cal.Events() {
		if ve.Id() == uid && !ve.HasProperty(ical.ComponentPropertyRecurrenceId) {
			return ve
		}
	}
	return nil
}

func sequence(ve *ical.VEvent) int {
	p := ve.GetProperty(ical.ComponentPropertySequence)
	if p == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(p.Value))
	if err != nil {
		return 0
	}
	return n
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// rawFromVEvent reads the fields the engine understands. An all-day event
// without DTEND lasts one day; a timed one without DTEND is zero-length.
func rawFromVEvent(ve *ical.VEvent) (tb.RawEvent, error) {
	start, err := ve.GetStartAt()
	if err != nil {
		return tb.RawEvent{}, fmt.Errorf("reading DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	switch {
	case errors.Is(err, ical.ErrorPropertyNotFound):
		end = start
		if allDay(ve) {
			end = start.AddDate(0, 0, 1)
		}
	case err != nil:
		return tb.RawEvent{}, fmt.Errorf("reading DTEND: %w", err)
	}

	ev := tb.RawEvent{
		RemoteID:    ve.Id(),
		LocalID:     propValue(ve, propLocalID),
		Type:        propValue(ve, propType),
		Summary:     propValue(ve, ical.ComponentPropertySummary),
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Color:       propValue(ve, ical.ComponentPropertyColor),
		Start:       start,
		End:         end,
		Revision:    strconv.Itoa(sequence(ve)),
	}
	if t, err := ve.GetLastModifiedAt(); err == nil {
		ev.Updated = t
	}
	return ev, nil
}

func allDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if v, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(v) == 1 {
		return v[0] == string(ical.ValueDataTypeDate)
	}
	return len(p.Value) == len(icalDate)
}

// expand turns a recurring VEVENT into the occurrences overlapping window.
// Occurrences are never engine-owned: their remote id is the UID plus the
// occurrence start, which no write method accepts.
func expand(ve *ical.VEvent, base tb.RawEvent, rule string, overrides []*ical.VEvent, window model.Window) ([]tb.RawEvent, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parsing RRULE %q: %w", rule, err)
	}
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, ex := range parseDateList(p, base.Start.Location()) {
			set.ExDate(ex)
		}
	}

	dur := base.End.Sub(base.Start)
	times := set.Between(window.Start.Add(-dur).In(base.Start.Location()), window.End.In(base.Start.Location()), true)
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
	}

	var out []tb.RawEvent
	for _, start := range times {
		occ := base
		occ.Start, occ.End = start, start.Add(dur)
		occ.LocalID = ""
		occ.Recurring = true
		occ.RemoteID = base.RemoteID + "/" + start.UTC().Format(icalTimestampUTC)
		if o := overrideFor(overrides, start); o != nil {
			if ov, err := rawFromVEvent(o); err == nil {
				occ.Start, occ.End = ov.Start, ov.End
				occ.Summary, occ.Description, occ.Color = ov.Summary, ov.Description, ov.Color
			}
		}
		if inWindow(window, occ.Start, occ.End) {
			out = append(out, occ)
		}
	}
	return out, nil
}

func overrideFor(overrides []*ical.VEvent, start time.Time) *ical.VEvent {
	for _, o := range overrides {
		p := o.GetProperty(ical.ComponentPropertyRecurrenceId)
		if p == nil {
			continue
		}
		for _, rid := range parseDateList(p, start.Location()) {
			if rid.Equal(start) {
				return o
			}
		}
	}
	return nil
}

// parseDateList reads a comma-separated DATE or DATE-TIME property value,
// honoring its TZID parameter. Unparseable entries are dropped.
func parseDateList(p *ical.IANAProperty, fallback *time.Location) []time.Time {
	loc := fallback
	if tz, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tz) == 1 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			loc = l
		}
	}
	var out []time.Time
	for _, v := range strings.Split(p.Value, ",") {
		v = strings.TrimSpace(v)
		var (
			t   time.Time
			err error
		)
		switch {
		case strings.HasSuffix(v, "Z"):
			t, err = time.ParseInLocation(icalTimestampUTC, v, time.UTC)
		case len(v) == len(icalDate):
			t, err = time.ParseInLocation(icalDate, v, loc)
		default:
			t, err = time.ParseInLocation(icalTimestampLocal, v, loc)
		}
		if err == nil {
			out = append(out, t)
		}
	}
	return out
}

// Compile-time checks that ICSCalendar implements the calendar interfaces
var (
	_ tb.CalendarClient = (*ICSCalendar)(nil)
	_ tb.EventLookup    = (*ICSCalendar)(nil)
)
