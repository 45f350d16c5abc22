package testutil

import (
	"fmt"
	"sync"
	"time"

	"tbsync/internal/model"
)

// PlanDay is the day fixture plans are written for.
const PlanDay = "2025-03-10"

// StubClock reports a time that only moves when told to. Safe for
// concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at 07:00 UTC on PlanDay, ahead of every
// fixture block on that day.
func FixedClock() *StubClock {
	return ClockOn(PlanDay, "UTC", 7, 0)
}

// ClockOn returns a StubClock at hour:min wall time on date in timezone.
// It panics on a malformed date or unknown zone, which only a broken test
// can produce.
func ClockOn(date, timezone string, hour, min int) *StubClock {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return NewStubClock(time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, loc))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Today is the clock's date in timezone, formatted like Plan.Date.
func (c *StubClock) Today(timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		panic(fmt.Sprintf("testutil: %v", err))
	}
	return c.Now().In(loc).Format(model.DateLayout)
}

// StubIDGenerator hands out transaction ids in submit order: "tx-0001",
// "tx-0002", and so on.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("tx-%04d", g.next)
}
