package tb

import "tbsync/internal/model"

// ReconcileWithBase protects remote edits made since the last sync.
//
// base is the plan as the engine last wrote it. For every owned event of base
// whose remote copy was modified or deleted since, the remote state wins: the
// returned desired plan carries the remote version (or drops the event) and a
// Divergence is reported. Owned events that are not in base are left to the
// desired plan. Foreign events are never touched.
func ReconcileWithBase(base, remote, desired model.Plan) (model.Plan, []Divergence) {
	remoteByID := make(map[string]EventPayload)
	for _, e := range remote.Events {
		if e.Foreign || !model.IsOwnedID(e.ID) {
			continue
		}
		if p, ok := Project(e); ok {
			remoteByID[e.ID] = p
		}
	}
	wantedByID := make(map[string]EventPayload)
	for _, e := range model.ResolveTimings(desired).Events {
		if p, ok := Project(e); ok && !e.Foreign {
			wantedByID[e.ID] = p
		}
	}

	out := desired.Clone()
	var divergences []Divergence
	for _, be := range base.Events {
		if be.Foreign || !model.IsOwnedID(be.ID) {
			continue
		}
		basePayload, ok := Project(be)
		if !ok {
			continue
		}
		wanted, inDesired := wantedByID[be.ID]
		remotePayload, onRemote := remoteByID[be.ID]

		switch {
		case !onRemote:
			d := Divergence{LocalID: be.ID, Kind: DivergenceDeleted, Base: ptr(basePayload)}
			if i := out.Index(be.ID); i >= 0 {
				out.Events = append(out.Events[:i], out.Events[i+1:]...)
				d.Dropped = true
			}
			divergences = append(divergences, d)
		case !remotePayload.Equal(basePayload):
			d := Divergence{LocalID: be.ID, Kind: DivergenceModified, Base: ptr(basePayload), Remote: ptr(remotePayload)}
			if i := out.Index(be.ID); i >= 0 {
				d.Dropped = !inDesired || !wanted.Equal(remotePayload)
				out.Events[i] = remotePayload.Event()
			} else {
				d.Dropped = true
				out.Events = append(out.Events, remotePayload.Event())
			}
			divergences = append(divergences, d)
		}
	}
	return out, divergences
}

func ptr[T any](v T) *T { return &v }
