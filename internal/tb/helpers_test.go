package tb_test

import (
	"context"
	"testing"
	"time"

	"tbsync/internal/calendar"
	"tbsync/internal/model"
	"tbsync/internal/tb"
	"tbsync/internal/testutil"
)

const (
	day   = "2025-03-10"
	calID = "primary"
)

func at(h, m int) time.Time {
	return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC)
}

func block(typ model.EventType, name string, sh, sm, eh, em int) model.Event {
	return model.Event{Type: typ, Name: name, Timing: model.FixedWindow{Start: at(sh, sm), End: at(eh, em)}}
}

// desired builds a plan for day and derives ids for its owned events.
func desired(events ...model.Event) model.Plan {
	return model.AssignIDs(model.Plan{Date: day, Timezone: "UTC", Events: events})
}

// seedForeign puts an event on the calendar that the engine did not create.
func seedForeign(c *calendar.MemoryCalendar, title string, sh, sm, eh, em int) string {
	return c.Seed(calID, tb.RawEvent{
		Summary: title,
		Type:    string(model.EventTypeMeeting),
		Color:   model.EventTypeMeeting.Color(),
		Start:   at(sh, sm),
		End:     at(eh, em),
	})
}

// fetch reads the remote day the way a session does.
func fetch(t *testing.T, c tb.CalendarClient) (model.Plan, map[string]string) {
	t.Helper()
	window, _ := model.NewPlan(day, "UTC").Window()
	raw, err := c.ListEvents(context.Background(), calID, window)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	return tb.RemotePlanFromFetch(day, "UTC", raw)
}

func newExecutor(c tb.CalendarClient, opts ...tb.ExecutorOption) *tb.Executor {
	return tb.NewExecutor(c, calID, tb.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator(), opts...)
}

func newSession(t *testing.T, c tb.CalendarClient, txlog tb.TransactionLog, opts ...tb.ExecutorOption) *tb.Session {
	t.Helper()
	return tb.NewSession("s1", calID, c, txlog, tb.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator(), opts...)
}

func opTypes(ops []tb.SyncOp) []tb.OpType {
	out := make([]tb.OpType, len(ops))
	for i, op := range ops {
		out[i] = op.Type
	}
	return out
}

func opStatuses(ops []tb.SyncOp) []tb.OpStatus {
	out := make([]tb.OpStatus, len(ops))
	for i, op := range ops {
		out[i] = op.Status
	}
	return out
}

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
