// Package scheduler drives the engine: a tick loop scans for due watchers
// and workflows and fans them out to the worker pool, while periodic
// maintenance jobs watch over the cookie store.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/GabriWar/vigilant/config"
	"github.com/GabriWar/vigilant/executor"
	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/notify"
	"github.com/GabriWar/vigilant/store"
	"github.com/GabriWar/vigilant/worker"
	"github.com/GabriWar/vigilant/workflow"
)

// Scheduler owns the tick loop and the in-flight bookkeeping.
//
// Architecture:
//   - a single control goroutine scans on every tick and submits due runs to
//     the worker pool; the scan itself never executes a request, so a slow
//     target cannot stall the loop;
//   - per-watcher and per-workflow in-flight sets guarantee at most one
//     concurrent run per entity, however long a run takes;
//   - every run gets a context with the configured wall-clock limit, so a
//     hung transfer cannot occupy a pool slot forever;
//   - cookie maintenance (expiry warnings, notifications, cleanup) rides the
//     same loop on its own coarser cadence.
type Scheduler struct {
	cfg       *config.Config
	store     *store.Store
	exec      *executor.Executor
	workflows *workflow.Runner
	pool      *worker.Pool
	notifier  notify.Notifier
	log       *logger.Logger

	mu                sync.Mutex
	inflightWatchers  map[int64]struct{}
	inflightWorkflows map[int64]struct{}

	nextWarnScan   time.Time
	nextNotifyScan time.Time
	nextCleanup    time.Time

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New creates a Scheduler.  Call Start to begin ticking.
func New(cfg *config.Config, st *store.Store, ex *executor.Executor,
	wf *workflow.Runner, pool *worker.Pool, notifier notify.Notifier, log *logger.Logger) *Scheduler {
	now := time.Now().UTC()
	return &Scheduler{
		cfg:               cfg,
		store:             st,
		exec:              ex,
		workflows:         wf,
		pool:              pool,
		notifier:          notifier,
		log:               log,
		inflightWatchers:  make(map[int64]struct{}),
		inflightWorkflows: make(map[int64]struct{}),
		nextWarnScan:      now,
		nextNotifyScan:    now,
		nextCleanup:       nextCleanupAfter(now, cfg.CookieCleanupHourUTC),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start launches the control goroutine.  It is non-blocking; call Stop to
// shut down.
func (sc *Scheduler) Start() {
	ticker := time.NewTicker(sc.cfg.SchedulerTick)
	go func() {
		defer ticker.Stop()
		defer close(sc.doneCh)
		for {
			select {
			case <-sc.stopCh:
				return
			case <-ticker.C:
				sc.tick(time.Now().UTC())
			}
		}
	}()
	sc.log.Infof("scheduler: started, tick %s, pool %d", sc.cfg.SchedulerTick, sc.cfg.PoolSize)
}

// Stop halts the tick loop and drains the pool: queued and in-flight runs
// finish, new ones are refused.
func (sc *Scheduler) Stop() {
	sc.once.Do(func() {
		close(sc.stopCh)
		<-sc.doneCh
		sc.pool.Stop()
		sc.log.Info("scheduler: stopped")
	})
}

func (sc *Scheduler) tick(now time.Time) {
	sc.dispatchWatchers(now)
	sc.dispatchWorkflows(now)
	sc.runMaintenance(now)
}

// WatcherDue reports whether a watcher is due at now: never checked, or its
// interval has elapsed since the last check.
func WatcherDue(w *model.Watcher, now time.Time) bool {
	if w.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*w.LastCheckedAt) >= time.Duration(w.WatchInterval)*time.Second
}

// WorkflowDue is the workflow analogue of WatcherDue.
func WorkflowDue(wf *model.Workflow, now time.Time) bool {
	if !wf.ScheduleEnabled || wf.ScheduleInterval <= 0 {
		return false
	}
	if wf.LastExecutedAt == nil {
		return true
	}
	return now.Sub(*wf.LastExecutedAt) >= time.Duration(wf.ScheduleInterval)*time.Second
}

func (sc *Scheduler) dispatchWatchers(now time.Time) {
	watchers, err := sc.store.ListSchedulableWatchers(context.Background())
	if err != nil {
		sc.log.Errorf("scheduler: list schedulable watchers: %v", err)
		return
	}
	for _, w := range watchers {
		if !WatcherDue(w, now) {
			continue
		}
		if !sc.claimWatcher(w.ID) {
			continue
		}
		captured := w
		accepted := sc.pool.TrySubmit(func() {
			defer sc.releaseWatcher(captured.ID)
			ctx, cancel := context.WithTimeout(context.Background(), sc.cfg.RunTimeout())
			defer cancel()
			// Run records its own outcome; the error is already persisted.
			_, _ = sc.exec.Run(ctx, captured, nil) //nolint:errcheck
		})
		if !accepted {
			// Pool saturated or stopping; the watcher stays due and is
			// retried on a later tick.
			sc.releaseWatcher(captured.ID)
		}
	}
}

func (sc *Scheduler) dispatchWorkflows(now time.Time) {
	workflows, err := sc.store.ListScheduledWorkflows(context.Background())
	if err != nil {
		sc.log.Errorf("scheduler: list scheduled workflows: %v", err)
		return
	}
	for _, wf := range workflows {
		if !WorkflowDue(wf, now) {
			continue
		}
		if !sc.claimWorkflow(wf.ID) {
			continue
		}
		running, err := sc.store.HasRunningExecution(context.Background(), wf.ID)
		if err != nil {
			sc.log.Errorf("scheduler: running executions for workflow %d: %v", wf.ID, err)
			sc.releaseWorkflow(wf.ID)
			continue
		}
		if running {
			sc.releaseWorkflow(wf.ID)
			continue
		}
		captured := wf
		limit := sc.cfg.RunTimeout() * time.Duration(max(len(wf.Steps), 1))
		accepted := sc.pool.TrySubmit(func() {
			defer sc.releaseWorkflow(captured.ID)
			ctx, cancel := context.WithTimeout(context.Background(), limit)
			defer cancel()
			if _, err := sc.workflows.Execute(ctx, captured, nil); err != nil {
				sc.log.Errorf("scheduler: workflow %d: %v", captured.ID, err)
			}
		})
		if !accepted {
			sc.releaseWorkflow(captured.ID)
		}
	}
}

func (sc *Scheduler) claimWatcher(id int64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, busy := sc.inflightWatchers[id]; busy {
		return false
	}
	sc.inflightWatchers[id] = struct{}{}
	return true
}

func (sc *Scheduler) releaseWatcher(id int64) {
	sc.mu.Lock()
	delete(sc.inflightWatchers, id)
	sc.mu.Unlock()
}

func (sc *Scheduler) claimWorkflow(id int64) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, busy := sc.inflightWorkflows[id]; busy {
		return false
	}
	sc.inflightWorkflows[id] = struct{}{}
	return true
}

func (sc *Scheduler) releaseWorkflow(id int64) {
	sc.mu.Lock()
	delete(sc.inflightWorkflows, id)
	sc.mu.Unlock()
}

// runMaintenance fires the cookie jobs when their cadence is due: the warn
// scan hourly, the notification scan every six hours, and the cleanup once a
// day at the configured UTC hour.
func (sc *Scheduler) runMaintenance(now time.Time) {
	if !now.Before(sc.nextWarnScan) {
		sc.nextWarnScan = now.Add(time.Hour)
		sc.warnExpiringCookies()
	}
	if !now.Before(sc.nextNotifyScan) {
		sc.nextNotifyScan = now.Add(6 * time.Hour)
		sc.notifyExpiringCookies()
	}
	if !now.Before(sc.nextCleanup) {
		sc.nextCleanup = nextCleanupAfter(now, sc.cfg.CookieCleanupHourUTC)
		sc.cleanupExpiredCookies()
	}
}

func (sc *Scheduler) warnExpiringCookies() {
	horizon := time.Duration(sc.cfg.CookieWarnHours) * time.Hour
	cookies, err := sc.store.CookiesExpiringWithin(context.Background(), horizon)
	if err != nil {
		sc.log.Errorf("scheduler: cookie warn scan: %v", err)
		return
	}
	byWatcher := groupCookies(cookies)
	for watcherID, group := range byWatcher {
		sc.log.Warnf("scheduler: watcher %d has %d cookies expiring within %dh (earliest %s)",
			watcherID, len(group), sc.cfg.CookieWarnHours, group[0].Expires.Format(time.RFC3339))
	}
}

func (sc *Scheduler) notifyExpiringCookies() {
	horizon := time.Duration(sc.cfg.CookieNotifyHours) * time.Hour
	cookies, err := sc.store.CookiesExpiringWithin(context.Background(), horizon)
	if err != nil {
		sc.log.Errorf("scheduler: cookie notify scan: %v", err)
		return
	}
	for watcherID, group := range groupCookies(cookies) {
		sc.notifier.Notify(context.Background(),
			notify.CookieExpiring(watcherID, len(group), group[0].Expires))
	}
}

func (sc *Scheduler) cleanupExpiredCookies() {
	n, err := sc.store.DeleteExpiredCookies(context.Background())
	if err != nil {
		sc.log.Errorf("scheduler: cookie cleanup: %v", err)
		return
	}
	if n > 0 {
		sc.log.Infof("scheduler: removed %d expired cookies", n)
	}
}

// groupCookies groups cookies by owning watcher, keeping the query's
// expires ordering inside each group (earliest first).
func groupCookies(cookies []model.Cookie) map[int64][]model.Cookie {
	out := make(map[int64][]model.Cookie)
	for _, c := range cookies {
		out[c.WatcherID] = append(out[c.WatcherID], c)
	}
	return out
}

// nextCleanupAfter returns the next occurrence of hour (UTC) strictly after
// now.
func nextCleanupAfter(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
