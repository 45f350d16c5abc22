package calendar

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"tbsync/internal/model"
	"tbsync/internal/tb"
)

// MemoryCalendar is an in-memory implementation of tb.CalendarClient.
// It is useful for testing and for dry runs. This implementation is safe
// for concurrent use.
type MemoryCalendar struct {
	clock     tb.Clock
	calendars map[string]map[string]tb.RawEvent // calendarID -> remoteID -> event
	mu        sync.RWMutex
}

// NewMemoryCalendar creates an empty in-memory calendar store.
func NewMemoryCalendar(clock tb.Clock) *MemoryCalendar {
	return &MemoryCalendar{
		clock:     clock,
		calendars: make(map[string]map[string]tb.RawEvent),
	}
}

func (m *MemoryCalendar) events(calendarID string) map[string]tb.RawEvent {
	events, ok := m.calendars[calendarID]
	if !ok {
		events = make(map[string]tb.RawEvent)
		m.calendars[calendarID] = events
	}
	return events
}

// Seed stores an event as-is, as if someone other than the engine had
// created it. A RemoteID is assigned when empty. Returns the remote id.
func (m *MemoryCalendar) Seed(calendarID string, ev tb.RawEvent) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.RemoteID == "" {
		ev.RemoteID = uuid.NewString()
	}
	if ev.Revision == "" {
		ev.Revision = "1"
	}
	ev.Updated = m.clock.Now()
	m.events(calendarID)[ev.RemoteID] = ev
	return ev.RemoteID
}

// Events returns every stored event of a calendar ordered by start time.
func (m *MemoryCalendar) Events(calendarID string) []tb.RawEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sorted(m.calendars[calendarID], nil)
}

// ListEvents returns the events overlapping window.
func (m *MemoryCalendar) ListEvents(_ context.Context, calendarID string, window model.Window) ([]tb.RawEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sorted(m.calendars[calendarID], &window), nil
}

// CreateEvent stores payload under a fresh remote id.
func (m *MemoryCalendar) CreateEvent(_ context.Context, calendarID string, payload tb.EventPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remoteID := uuid.NewString()
	ev := rawFromPayload(payload)
	ev.RemoteID = remoteID
	ev.Revision = "1"
	ev.Updated = m.clock.Now()
	m.events(calendarID)[remoteID] = ev
	return remoteID, nil
}

// UpdateEvent overwrites the engine-controlled fields of an event.
func (m *MemoryCalendar) UpdateEvent(_ context.Context, calendarID, remoteID string, payload tb.EventPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.events(calendarID)
	old, ok := events[remoteID]
	if !ok {
		return fmt.Errorf("event %s: %w", remoteID, tb.ErrRemoteNotFound)
	}
	ev := rawFromPayload(payload)
	ev.RemoteID = remoteID
	ev.Revision = nextRevision(old.Revision)
	ev.Updated = m.clock.Now()
	events[remoteID] = ev
	return nil
}

// DeleteEvent removes an event.
func (m *MemoryCalendar) DeleteEvent(_ context.Context, calendarID, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.events(calendarID)
	if _, ok := events[remoteID]; !ok {
		return fmt.Errorf("event %s: %w", remoteID, tb.ErrRemoteNotFound)
	}
	delete(events, remoteID)
	return nil
}

// LookupEvent finds the event created for localID.
func (m *MemoryCalendar) LookupEvent(_ context.Context, calendarID, localID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ev := range sorted(m.calendars[calendarID], nil) {
		if ev.LocalID == localID {
			return ev.RemoteID, true, nil
		}
	}
	return "", false, nil
}

// sorted returns events ordered by start then remote id, optionally
// restricted to those overlapping window.
func sorted(events map[string]tb.RawEvent, window *model.Window) []tb.RawEvent {
	out := make([]tb.RawEvent, 0, len(events))
	for _, ev := range events {
		if window != nil && !inWindow(*window, ev.Start, ev.End) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].RemoteID < out[j].RemoteID
	})
	return out
}

// inWindow reports whether [start, end) intersects window. A zero-length
// event counts when its instant falls inside window.
func inWindow(window model.Window, start, end time.Time) bool {
	if !end.After(start) {
		return !start.Before(window.Start) && start.Before(window.End)
	}
	return window.Overlaps(model.Window{Start: start, End: end})
}

func rawFromPayload(p tb.EventPayload) tb.RawEvent {
	return tb.RawEvent{
		LocalID:     p.ID,
		Type:        string(p.Type),
		Summary:     p.Title,
		Description: p.Description,
		Start:       p.Start,
		End:         p.End,
		Color:       p.Color,
	}
}

func nextRevision(rev string) string {
	n, err := strconv.Atoi(rev)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(n + 1)
}

// Compile-time checks that MemoryCalendar implements the calendar interfaces
var (
	_ tb.CalendarClient = (*MemoryCalendar)(nil)
	_ tb.EventLookup    = (*MemoryCalendar)(nil)
)
