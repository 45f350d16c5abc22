package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"tbsync/internal/model"
	"tbsync/internal/tb"
)

// WatchReport is the result of one prefetch tick for one date.
type WatchReport struct {
	Date        string
	Snapshot    tb.Snapshot
	Divergences []tb.Divergence
}

// watchDates returns the dates a tick covers: today and the following days.
func (a *TBApp) watchDates() ([]string, error) {
	loc, err := model.Plan{Timezone: a.cfg.Timezone}.Location()
	if err != nil {
		return nil, err
	}
	today := a.clock.Now().In(loc)
	dates := make([]string, a.cfg.Sync.PrefetchDays)
	for i := range dates {
		dates[i] = today.AddDate(0, 0, i).Format(model.DateLayout)
	}
	return dates, nil
}

// tick refreshes the prefetch cache and reports drift for each date.
func (a *TBApp) tick(ctx context.Context, prefetch *tb.Prefetcher, report func(WatchReport)) {
	dates, err := a.watchDates()
	if err != nil {
		a.logger.Error("watch tick skipped", "error", err)
		return
	}
	if err := prefetch.Refresh(ctx, dates...); err != nil {
		a.logger.Warn("watch refresh incomplete", "error", err)
	}
	for _, date := range dates {
		snap := prefetch.Snapshot(date)
		r := WatchReport{Date: date, Snapshot: snap}
		if !snap.Stale {
			r.Divergences, err = a.session.Drift(snap.Remote)
			if err != nil {
				a.logger.Warn("drift check failed", "date", date, "error", err)
			}
		}
		report(r)
	}
}

// Watch refreshes remote snapshots on the configured cron schedule and
// reports owned events edited outside the engine. It runs one tick right
// away and returns when ctx is done. Ticks never overlap.
func (a *TBApp) Watch(ctx context.Context, report func(WatchReport)) error {
	loc, err := model.Plan{Timezone: a.cfg.Timezone}.Location()
	if err != nil {
		return err
	}
	timeout := time.Duration(a.cfg.Sync.FetchTimeoutSeconds) * time.Second
	prefetch := a.newPrefetcher()

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(a.cfg.Sync.PrefetchSchedule, func() {
		tickCtx, cancel := context.WithTimeout(ctx, 2*timeout)
		defer cancel()
		a.tick(tickCtx, prefetch, report)
	}); err != nil {
		return fmt.Errorf("invalid prefetch schedule %q: %w", a.cfg.Sync.PrefetchSchedule, err)
	}

	a.logger.Info("watching calendar", "schedule", a.cfg.Sync.PrefetchSchedule, "days", a.cfg.Sync.PrefetchDays)
	a.tick(ctx, prefetch, report)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
