package tb

import (
	"sort"

	"tbsync/internal/model"
)

// RemotePlanFromFetch converts a calendar listing into a plan.
//
// Events carrying an engine-derived local id become owned events keyed by that
// id; everything else is foreign and keyed by its remote id. The returned map
// holds the local to remote id pairs observed in raw. When the same local id
// appears on several remote events (a create that was retried without a
// lookup) the extra copies get a suffixed owned id so a sync deletes them.
func RemotePlanFromFetch(date, timezone string, raw []RawEvent) (model.Plan, map[string]string) {
	sorted := make([]RawEvent, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].RemoteID < sorted[j].RemoteID
	})

	plan := model.NewPlan(date, timezone)
	idMap := make(map[string]string)
	for _, r := range sorted {
		e := model.Event{
			Name:        r.Summary,
			Description: r.Description,
			Timing:      model.FixedWindow{Start: r.Start, End: r.End},
		}
		if et, err := model.ParseEventType(r.Type); err == nil {
			e.Type = et
		} else {
			e.Type = model.EventTypeForColor(r.Color)
		}
		if r.Color != "" && r.Color != e.Type.Color() {
			e.ColorHint = r.Color
		}

		if model.IsOwnedID(r.LocalID) {
			e.ID = r.LocalID
			if _, dup := idMap[r.LocalID]; dup {
				e.ID = r.LocalID + "~" + r.RemoteID
			}
			idMap[e.ID] = r.RemoteID
		} else {
			e.ID = r.RemoteID
			e.Foreign = true
		}
		plan.Events = append(plan.Events, e)
	}
	return plan, idMap
}

// mergeIDMaps returns a copy of base overlaid with fresh.
func mergeIDMaps(base, fresh map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(fresh))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fresh {
		out[k] = v
	}
	return out
}
