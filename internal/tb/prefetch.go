package tb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tbsync/internal/model"
)

// ConstraintSource supplies planning constraints for a day, such as working
// hours or standing preferences, to hand to a patch generator.
type ConstraintSource interface {
	Constraints(ctx context.Context, date string) ([]string, error)
}

// StaticConstraints is a ConstraintSource returning the same list every day.
type StaticConstraints []string

func (c StaticConstraints) Constraints(context.Context, string) ([]string, error) {
	return append([]string(nil), c...), nil
}

// Snapshot is the prefetched context for one day.
type Snapshot struct {
	Date        string
	Remote      model.Plan
	Constraints []string
	FetchedAt   time.Time
	// Stale is set when the last refresh failed and the snapshot is the
	// empty fallback.
	Stale bool
}

// Prefetcher refreshes remote snapshots and constraint context in the
// background. It only fills its own cache; session state is never touched.
type Prefetcher struct {
	client      CalendarClient
	calendarID  string
	timezone    string
	constraints ConstraintSource
	timeout     time.Duration
	logger      Logger
	clock       Clock

	mu    sync.RWMutex
	cache map[string]Snapshot
}

// NewPrefetcher creates a Prefetcher. constraints may be nil. A zero timeout
// means each refresh is bounded only by its context.
func NewPrefetcher(client CalendarClient, calendarID, timezone string, constraints ConstraintSource, timeout time.Duration, logger Logger, clock Clock) *Prefetcher {
	if constraints == nil {
		constraints = StaticConstraints(nil)
	}
	return &Prefetcher{
		client:      client,
		calendarID:  calendarID,
		timezone:    timezone,
		constraints: constraints,
		timeout:     timeout,
		logger:      logger,
		clock:       clock,
		cache:       make(map[string]Snapshot),
	}
}

// Refresh fetches every date concurrently. A date whose fetch fails or times
// out is cached as an empty stale snapshot; the joined error is returned for
// logging only.
func (p *Prefetcher) Refresh(ctx context.Context, dates ...string) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results := make([]Snapshot, len(dates))
	errs := make([]error, len(dates))
	var g errgroup.Group
	for i, date := range dates {
		g.Go(func() error {
			results[i], errs[i] = p.fetch(ctx, date)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	var failed []error
	for i, date := range dates {
		if errs[i] != nil {
			p.logger.Warn("prefetch failed, using empty context", "date", date, "error", errs[i])
			p.cache[date] = Snapshot{Date: date, Remote: model.NewPlan(date, p.timezone), FetchedAt: p.clock.Now(), Stale: true}
			failed = append(failed, fmt.Errorf("%s: %w", date, errs[i]))
			continue
		}
		p.cache[date] = results[i]
	}
	if len(failed) > 0 {
		return fmt.Errorf("prefetch: %d of %d dates failed: %w", len(failed), len(dates), failed[0])
	}
	return nil
}

// fetch loads the remote day and its constraints in parallel.
func (p *Prefetcher) fetch(ctx context.Context, date string) (Snapshot, error) {
	snap := Snapshot{Date: date}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		remote, _, err := fetchDay(gctx, p.client, p.calendarID, date, p.timezone)
		snap.Remote = remote
		return err
	})
	g.Go(func() error {
		c, err := p.constraints.Constraints(gctx, date)
		if err != nil {
			return fmt.Errorf("loading constraints: %w", err)
		}
		snap.Constraints = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	snap.FetchedAt = p.clock.Now()
	return snap, nil
}

// Snapshot returns the cached context for date, or an empty stale snapshot
// when nothing was prefetched.
func (p *Prefetcher) Snapshot(date string) Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if snap, ok := p.cache[date]; ok {
		return snap
	}
	return Snapshot{Date: date, Remote: model.NewPlan(date, p.timezone), Stale: true}
}

// Constraints returns the cached constraints for date. It satisfies
// ConstraintSource so a repair loop can read prefetched context without
// blocking on the remote.
func (p *Prefetcher) Constraints(_ context.Context, date string) ([]string, error) {
	return p.Snapshot(date).Constraints, nil
}
