package tb

import (
	"fmt"
	"strings"

	"tbsync/internal/model"
)

// PlanSync computes the remote mutations that make remote match desired.
//
// Only owned remote events are ever targeted; foreign events of either plan
// are ignored. Owned events are compared through their EventPayload
// projection. The result lists deletes, then updates, then creates, and is
// empty when remote already reflects desired. idMap supplies remote ids for
// owned events.
func PlanSync(remote, desired model.Plan, idMap map[string]string) ([]SyncOp, error) {
	owned := make(map[string]EventPayload)
	var ownedOrder []string
	for _, e := range remote.Events {
		if e.Foreign || !model.IsOwnedID(e.ID) {
			continue
		}
		p, ok := Project(e)
		if !ok {
			return nil, fmt.Errorf("remote event %s: %w", e.ID, ErrUnresolvedTiming)
		}
		owned[e.ID] = p
		ownedOrder = append(ownedOrder, e.ID)
	}

	wanted, wantedOrder, err := desiredPayloads(desired)
	if err != nil {
		return nil, err
	}

	var deletes, updates, creates []SyncOp
	for _, id := range ownedOrder {
		if _, ok := wanted[id]; ok {
			continue
		}
		before := owned[id]
		deletes = append(deletes, SyncOp{Type: OpDelete, LocalID: id, RemoteID: idMap[id], Before: &before, Status: OpPending})
	}
	for _, id := range wantedOrder {
		after := wanted[id]
		before, exists := owned[id]
		switch {
		case !exists:
			creates = append(creates, SyncOp{Type: OpCreate, LocalID: id, After: &after, Status: OpPending})
		case !before.Equal(after):
			updates = append(updates, SyncOp{Type: OpUpdate, LocalID: id, RemoteID: idMap[id], Before: &before, After: &after, Status: OpPending})
		}
	}

	ops := make([]SyncOp, 0, len(deletes)+len(updates)+len(creates))
	ops = append(ops, deletes...)
	ops = append(ops, updates...)
	ops = append(ops, creates...)
	return ops, nil
}

// desiredPayloads resolves timings and projects every non-foreign event of
// the desired plan.
func desiredPayloads(desired model.Plan) (map[string]EventPayload, []string, error) {
	if dups := desired.DuplicateIDs(); len(dups) > 0 {
		return nil, nil, fmt.Errorf("%w: duplicate ids %s", ErrInvalidDesiredPlan, strings.Join(dups, ", "))
	}
	resolved := model.ResolveTimings(desired)
	payloads := make(map[string]EventPayload)
	var order []string
	for _, e := range resolved.Events {
		if e.Foreign {
			continue
		}
		if !model.IsOwnedID(e.ID) {
			return nil, nil, fmt.Errorf("%w: event %q has no engine-owned id", ErrInvalidDesiredPlan, e.ID)
		}
		p, ok := Project(e)
		if !ok {
			return nil, nil, fmt.Errorf("event %s (%s): %w", e.ID, e.Name, ErrUnresolvedTiming)
		}
		payloads[e.ID] = p
		order = append(order, e.ID)
	}
	return payloads, order, nil
}
