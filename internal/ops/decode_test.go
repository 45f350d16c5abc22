package ops_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tbsync/internal/model"
	"tbsync/internal/ops"
)

func TestDecodePatch(t *testing.T) {
	plan := model.Plan{Date: "2025-03-10", Timezone: "Europe/Berlin"}
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	doc := `
ops:
  - op: add_events
    events:
      - {type: deep_work, name: Focus, timing: {kind: fixed_window, start: "09:00", end: "10:00"}}
  - op: move_event
    id: fftb-a
    timing: {kind: fixed_start, start: "14:00", duration_minutes: 30}
  - op: update_event
    id: fftb-b
    changes: {name: Renamed, type: habit}
  - op: remove_event
    id: fftb-c
`
	patch, err := ops.DecodePatch([]byte(doc), plan)
	require.NoError(t, err)
	require.Len(t, patch, 4)

	add, ok := patch[0].(ops.AddEvents)
	require.True(t, ok)
	start, _, _ := add.Events[0].Window()
	assert.True(t, start.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, berlin)))

	move, ok := patch[1].(ops.MoveEvent)
	require.True(t, ok)
	assert.Equal(t, "fftb-a", move.ID)
	assert.Equal(t, model.TimingFixedStart, move.Timing.Kind())

	update, ok := patch[2].(ops.UpdateEvent)
	require.True(t, ok)
	require.NotNil(t, update.Changes.Name)
	assert.Equal(t, "Renamed", *update.Changes.Name)
	require.NotNil(t, update.Changes.Type)
	assert.Equal(t, model.EventTypeHabit, *update.Changes.Type)
	assert.Nil(t, update.Changes.Timing)

	assert.Equal(t, ops.RemoveEvent{ID: "fftb-c"}, patch[3])
}

func TestDecodePatch_JSON(t *testing.T) {
	plan := model.Plan{Date: "2025-03-10", Timezone: "UTC"}
	patch, err := ops.DecodePatch([]byte(`{"ops":[{"op":"remove_event","id":"fftb-x"}]}`), plan)
	require.NoError(t, err)
	assert.Equal(t, ops.Patch{ops.RemoveEvent{ID: "fftb-x"}}, patch)
}

func TestDecodePatch_Malformed(t *testing.T) {
	plan := model.Plan{Date: "2025-03-10", Timezone: "UTC"}
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "ops: [unclosed"},
		{"unknown op", "ops: [{op: teleport, id: a}]"},
		{"remove without id", "ops: [{op: remove_event}]"},
		{"update without changes", "ops: [{op: update_event, id: a}]"},
		{"empty changes", "ops: [{op: update_event, id: a, changes: {}}]"},
		{"move without timing", "ops: [{op: move_event, id: a}]"},
		{"bad timing", "ops: [{op: move_event, id: a, timing: {kind: fixed_window, start: '11:00', end: '10:00'}}]"},
		{"bad event type", "ops: [{op: add_events, events: [{type: nap, name: z, timing: {kind: after_previous, duration_minutes: 5}}]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ops.DecodePatch([]byte(tt.doc), plan)
			assert.ErrorIs(t, err, ops.ErrPatchMalformed)
		})
	}
}
