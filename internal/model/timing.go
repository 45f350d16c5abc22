package model

import (
	"fmt"
	"time"
)

// TimingKind names a Timing variant on the wire.
type TimingKind string

const (
	TimingAfterPrevious TimingKind = "after_previous"
	TimingBeforeNext    TimingKind = "before_next"
	TimingFixedStart    TimingKind = "fixed_start"
	TimingFixedWindow   TimingKind = "fixed_window"
)

// Timing describes how an event's concrete [start, end) is obtained.
// The set of implementations is closed: AfterPrevious, BeforeNext, FixedStart
// and FixedWindow.
type Timing interface {
	Kind() TimingKind
	isTiming()
}

// AfterPrevious starts OffsetMinutes after the previous event in sequence ends.
type AfterPrevious struct {
	OffsetMinutes   int
	DurationMinutes int
}

// BeforeNext ends OffsetMinutes before the next event in sequence starts.
type BeforeNext struct {
	OffsetMinutes   int
	DurationMinutes int
}

// FixedStart has an explicit start and a relative duration.
type FixedStart struct {
	Start           time.Time
	DurationMinutes int
}

// FixedWindow is an explicit, immovable window. Calendar-sourced events and
// hard commitments use it.
type FixedWindow struct {
	Start time.Time
	End   time.Time
}

func (AfterPrevious) Kind() TimingKind { return TimingAfterPrevious }
func (BeforeNext) Kind() TimingKind    { return TimingBeforeNext }
func (FixedStart) Kind() TimingKind    { return TimingFixedStart }
func (FixedWindow) Kind() TimingKind   { return TimingFixedWindow }

func (AfterPrevious) isTiming() {}
func (BeforeNext) isTiming()    {}
func (FixedStart) isTiming()    {}
func (FixedWindow) isTiming()   {}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// ResolveWindow returns the absolute window of a timing that does not depend
// on sibling events. AfterPrevious and BeforeNext never resolve here.
func ResolveWindow(t Timing) (time.Time, time.Time, bool) {
	switch v := t.(type) {
	case FixedWindow:
		return v.Start, v.End, true
	case FixedStart:
		return v.Start, v.Start.Add(minutes(v.DurationMinutes)), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// ValidateTiming rejects negative durations and inverted windows.
func ValidateTiming(t Timing) error {
	switch v := t.(type) {
	case AfterPrevious:
		if v.DurationMinutes <= 0 {
			return fmt.Errorf("after_previous duration must be positive, got %d", v.DurationMinutes)
		}
	case BeforeNext:
		if v.DurationMinutes <= 0 {
			return fmt.Errorf("before_next duration must be positive, got %d", v.DurationMinutes)
		}
	case FixedStart:
		if v.Start.IsZero() {
			return fmt.Errorf("fixed_start requires a start time")
		}
		if v.DurationMinutes <= 0 {
			return fmt.Errorf("fixed_start duration must be positive, got %d", v.DurationMinutes)
		}
	case FixedWindow:
		if v.Start.IsZero() || v.End.IsZero() {
			return fmt.Errorf("fixed_window requires start and end")
		}
		if !v.End.After(v.Start) {
			return fmt.Errorf("fixed_window end %s is not after start %s", v.End.Format(time.RFC3339), v.Start.Format(time.RFC3339))
		}
	case nil:
		return fmt.Errorf("timing is required")
	default:
		return fmt.Errorf("unsupported timing %T", t)
	}
	return nil
}
