package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tbsync/internal/calendar"
	"tbsync/internal/model"
	"tbsync/internal/tb"
)

// ErrInjected is the default error returned by FailingCalendar.
var ErrInjected = errors.New("injected calendar failure")

// NewTestCalendar creates an empty in-memory calendar on the fixed clock.
func NewTestCalendar() *calendar.MemoryCalendar {
	return calendar.NewMemoryCalendar(FixedClock())
}

// FailingCalendar wraps a MemoryCalendar and fails chosen write calls.
// Writes (create, update, delete) are numbered from 1 in the order they
// arrive; FailWrite makes the n-th one return an error without touching
// the store. Safe for concurrent use.
type FailingCalendar struct {
	*calendar.MemoryCalendar

	mu        sync.Mutex
	writes    int
	failAt    map[int]error
	listErr   error
	listDelay time.Duration
	lookupOff bool
	listCalls int
}

// NewFailingCalendar wraps inner. A nil inner gets a fresh test calendar.
func NewFailingCalendar(inner *calendar.MemoryCalendar) *FailingCalendar {
	if inner == nil {
		inner = NewTestCalendar()
	}
	return &FailingCalendar{MemoryCalendar: inner, failAt: make(map[int]error)}
}

// FailWrite makes the n-th write call fail with err (ErrInjected when nil).
func (f *FailingCalendar) FailWrite(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.failAt[n] = err
}

// FailList makes every ListEvents call fail with err. nil clears it.
func (f *FailingCalendar) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// DelayList makes ListEvents wait d, or until its context is done.
func (f *FailingCalendar) DelayList(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listDelay = d
}

// DisableLookup makes LookupEvent report every id as unknown, as a client
// without lookup support would.
func (f *FailingCalendar) DisableLookup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupOff = true
}

// Writes returns how many write calls were made, failed ones included.
func (f *FailingCalendar) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// ListCalls returns how many ListEvents calls were made.
func (f *FailingCalendar) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *FailingCalendar) nextWrite(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if err, ok := f.failAt[f.writes]; ok {
		return fmt.Errorf("%s (write %d): %w", op, f.writes, err)
	}
	return nil
}

func (f *FailingCalendar) ListEvents(ctx context.Context, calendarID string, window model.Window) ([]tb.RawEvent, error) {
	f.mu.Lock()
	f.listCalls++
	listErr, delay := f.listErr, f.listDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if listErr != nil {
		return nil, listErr
	}
	return f.MemoryCalendar.ListEvents(ctx, calendarID, window)
}

func (f *FailingCalendar) CreateEvent(ctx context.Context, calendarID string, payload tb.EventPayload) (string, error) {
	if err := f.nextWrite("create"); err != nil {
		return "", err
	}
	return f.MemoryCalendar.CreateEvent(ctx, calendarID, payload)
}

func (f *FailingCalendar) UpdateEvent(ctx context.Context, calendarID, remoteID string, payload tb.EventPayload) error {
	if err := f.nextWrite("update"); err != nil {
		return err
	}
	return f.MemoryCalendar.UpdateEvent(ctx, calendarID, remoteID, payload)
}

func (f *FailingCalendar) DeleteEvent(ctx context.Context, calendarID, remoteID string) error {
	if err := f.nextWrite("delete"); err != nil {
		return err
	}
	return f.MemoryCalendar.DeleteEvent(ctx, calendarID, remoteID)
}

func (f *FailingCalendar) LookupEvent(ctx context.Context, calendarID, localID string) (string, bool, error) {
	f.mu.Lock()
	off := f.lookupOff
	f.mu.Unlock()
	if off {
		return "", false, nil
	}
	return f.MemoryCalendar.LookupEvent(ctx, calendarID, localID)
}

var (
	_ tb.CalendarClient = (*FailingCalendar)(nil)
	_ tb.EventLookup    = (*FailingCalendar)(nil)
)
