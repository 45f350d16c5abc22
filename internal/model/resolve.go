package model

import "time"

// ResolveTimings sequences relative timings into FixedWindow values.
//
// AfterPrevious is resolved from the end of the previous event and BeforeNext
// from the start of the next one. Passes repeat until nothing changes, so a
// chain anchored on either side resolves fully. Events that cannot be
// anchored keep their relative timing. p is not modified.
func ResolveTimings(p Plan) Plan {
	out := p.Clone()
	for changed := true; changed; {
		changed = forwardPass(out.Events) || backwardPass(out.Events)
	}
	return out
}

func forwardPass(events []Event) bool {
	changed := false
	var prevEnd time.Time
	havePrev := false
	for i, e := range events {
		if ap, ok := e.Timing.(AfterPrevious); ok && havePrev {
			start := prevEnd.Add(minutes(ap.OffsetMinutes))
			events[i].Timing = FixedWindow{Start: start, End: start.Add(minutes(ap.DurationMinutes))}
			changed = true
		}
		_, end, ok := events[i].Window()
		prevEnd, havePrev = end, ok
	}
	return changed
}

func backwardPass(events []Event) bool {
	changed := false
	var nextStart time.Time
	haveNext := false
	for i := len(events) - 1; i >= 0; i-- {
		if bn, ok := events[i].Timing.(BeforeNext); ok && haveNext {
			end := nextStart.Add(-minutes(bn.OffsetMinutes))
			events[i].Timing = FixedWindow{Start: end.Add(-minutes(bn.DurationMinutes)), End: end}
			changed = true
		}
		start, _, ok := events[i].Window()
		nextStart, haveNext = start, ok
	}
	return changed
}

// Unresolved returns the ids of events whose timing has no absolute window.
func Unresolved(p Plan) []string {
	var ids []string
	for _, e := range p.Events {
		if _, _, ok := e.Window(); !ok {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
