package model

import "fmt"

// Color returns the calendar color id used to render events of this type.
// Ids follow the Google Calendar event palette ("1".."11").
func (t EventType) Color() string {
	switch t {
	case EventTypeMeeting:
		return "9"
	case EventTypeCommute:
		return "8"
	case EventTypeDeepWork:
		return "10"
	case EventTypeShallowWork:
		return "7"
	case EventTypePersonal:
		return "6"
	case EventTypeHabit:
		return "5"
	case EventTypeRecovery:
		return "2"
	case EventTypeBuffer:
		return "1"
	case EventTypeBackground:
		return "3"
	default:
		return ""
	}
}

// Weight is the semantic load of an hour spent in a block of this type,
// between 0 (passive) and 1 (full focus). Planners use it to balance a day.
func (t EventType) Weight() float64 {
	switch t {
	case EventTypeMeeting, EventTypeDeepWork:
		return 1.0
	case EventTypeShallowWork:
		return 0.6
	case EventTypePersonal:
		return 0.5
	case EventTypeHabit:
		return 0.4
	case EventTypeCommute:
		return 0.3
	case EventTypeRecovery:
		return 0.2
	case EventTypeBuffer:
		return 0.1
	case EventTypeBackground:
		return 0
	default:
		return 0
	}
}

// EventTypeForColor maps a calendar color id back to the first event type
// rendered with it. Unknown colors map to EventTypeMeeting, the usual
// category of events created by other calendar clients.
func EventTypeForColor(color string) EventType {
	for _, t := range EventTypes {
		if t.Color() == color {
			return t
		}
	}
	return EventTypeMeeting
}

func (t EventType) String() string {
	if t == "" {
		return "unknown"
	}
	return string(t)
}

// Label is a short human label, e.g. "Deep work".
func (t EventType) Label() string {
	switch t {
	case EventTypeMeeting:
		return "Meeting"
	case EventTypeCommute:
		return "Commute"
	case EventTypeDeepWork:
		return "Deep work"
	case EventTypeShallowWork:
		return "Shallow work"
	case EventTypePersonal:
		return "Personal"
	case EventTypeHabit:
		return "Habit"
	case EventTypeRecovery:
		return "Recovery"
	case EventTypeBuffer:
		return "Buffer"
	case EventTypeBackground:
		return "Background"
	default:
		return fmt.Sprintf("Unknown(%s)", string(t))
	}
}
