package tb

import (
	"context"
	"time"

	"tbsync/internal/model"
)

// CalendarClient is the remote calendar the engine reads from and writes to.
// Every event it lists that the engine did not create is treated as
// authoritative and immutable.
type CalendarClient interface {
	// ListEvents returns all events overlapping window.
	ListEvents(ctx context.Context, calendarID string, window model.Window) ([]RawEvent, error)

	// CreateEvent stores a new event and returns its remote id.
	CreateEvent(ctx context.Context, calendarID string, payload EventPayload) (string, error)

	// UpdateEvent overwrites the engine-controlled fields of an event.
	// Returns an error wrapping ErrRemoteNotFound for unknown ids.
	UpdateEvent(ctx context.Context, calendarID, remoteID string, payload EventPayload) error

	// DeleteEvent removes an event.
	// Returns an error wrapping ErrRemoteNotFound for unknown ids.
	DeleteEvent(ctx context.Context, calendarID, remoteID string) error
}

// EventLookup is implemented by clients that can find an event by the local
// id it was created with. The executor uses it to make create retries
// idempotent.
type EventLookup interface {
	LookupEvent(ctx context.Context, calendarID, localID string) (remoteID string, found bool, err error)
}

// RawEvent is one event as returned by a CalendarClient.
type RawEvent struct {
	RemoteID    string
	LocalID     string // set on events created by the engine
	Type        string // event type recorded at creation, if any
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Color       string

	// Volatile server-side fields. Never compared.
	Revision  string
	Updated   time.Time
	Recurring bool
}

// EventPayload is the canonical projection of an event onto the fields the
// engine controls. Two events are in sync exactly when their payloads are
// Equal.
type EventPayload struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Description string          `json:"description,omitempty"`
	Type        model.EventType `json:"type"`
	Color       string          `json:"color,omitempty"`
}

// Equal compares payloads field by field, comparing instants rather than
// their zone representation.
func (p EventPayload) Equal(o EventPayload) bool {
	return p.ID == o.ID &&
		p.Title == o.Title &&
		p.Start.Equal(o.Start) &&
		p.End.Equal(o.End) &&
		p.Description == o.Description &&
		p.Type == o.Type &&
		p.Color == o.Color
}

// Project returns the payload of an event. ok is false when the event's
// timing has no absolute window.
func Project(e model.Event) (EventPayload, bool) {
	start, end, ok := e.Window()
	if !ok {
		return EventPayload{}, false
	}
	return EventPayload{
		ID:          e.ID,
		Title:       e.Name,
		Start:       start,
		End:         end,
		Description: e.Description,
		Type:        e.Type,
		Color:       e.Color(),
	}, true
}

// Event converts a payload back into an owned plan event.
func (p EventPayload) Event() model.Event {
	e := model.Event{
		ID:          p.ID,
		Type:        p.Type,
		Name:        p.Title,
		Timing:      model.FixedWindow{Start: p.Start, End: p.End},
		Description: p.Description,
	}
	if p.Color != p.Type.Color() {
		e.ColorHint = p.Color
	}
	return e
}
