/*
scheduler.go - Periodic balance reconciliation

PURPOSE:
  Runs Engine.Reconcile on a cron schedule so drift between the cached
  total_points and the ledger sum is found without anyone asking.

DESIGN:
  - robfig/cron with the standard 5-field parser ("0 * * * *") and
    descriptors ("@hourly", "@every 30m")
  - Overlapping runs are skipped, not queued
  - The last report is kept for inspection

CONFIGURATION:
  - Schedule: cron expression (default "@hourly")
  - Repair:   rewrite drifted totals instead of only reporting them

USAGE:
  s := NewReconciliationScheduler(engine, "@hourly", false, log)
  if err := s.Start(); err != nil { ... }
  defer s.Stop()

SEE ALSO:
  - handlers.go: POST /api/admin/reconcile (manual run)
  - ledger/balance.go: Reconcile
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/points"
)

// ReconciliationScheduler handles automated reconciliation.
type ReconciliationScheduler struct {
	engine   *points.Engine
	schedule string
	repair   bool
	log      logrus.FieldLogger

	// AfterRun, when set, is called with each successful report.
	AfterRun func(ctx context.Context, report *ledger.ReconcileReport)

	cron *cron.Cron
	mu   sync.Mutex
	last *ledger.ReconcileReport
}

func NewReconciliationScheduler(engine *points.Engine, schedule string, repair bool, log logrus.FieldLogger) *ReconciliationScheduler {
	log = log.WithField("component", "scheduler")
	return &ReconciliationScheduler{
		engine:   engine,
		schedule: schedule,
		repair:   repair,
		log:      log,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log)))),
	}
}

// Start registers the job and starts the cron loop.
func (rs *ReconciliationScheduler) Start() error {
	if _, err := rs.cron.AddFunc(rs.schedule, func() {
		if _, err := rs.RunNow(context.Background()); err != nil {
			rs.log.WithError(err).Error("scheduled reconciliation failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", rs.schedule, err)
	}
	rs.cron.Start()
	rs.log.WithField("schedule", rs.schedule).Info("reconciliation scheduler started")
	return nil
}

// Stop waits for a running job to finish.
func (rs *ReconciliationScheduler) Stop() {
	<-rs.cron.Stop().Done()
	rs.log.Info("reconciliation scheduler stopped")
}

// RunNow triggers an immediate reconciliation (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) (*ledger.ReconcileReport, error) {
	start := time.Now()
	report, err := rs.engine.Reconcile(ctx, rs.repair)
	if err != nil {
		return report, err
	}

	rs.mu.Lock()
	rs.last = report
	rs.mu.Unlock()

	rs.log.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"drifts":   len(report.Drifts),
		"repair":   rs.repair,
		"duration": time.Since(start).String(),
	}).Info("reconciliation completed")

	if rs.AfterRun != nil {
		rs.AfterRun(ctx, report)
	}
	return report, nil
}

// LastReport returns the most recent successful report, or nil.
func (rs *ReconciliationScheduler) LastReport() *ledger.ReconcileReport {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.last
}

// NextRun returns when the job fires next. Zero before Start.
func (rs *ReconciliationScheduler) NextRun() time.Time {
	entries := rs.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
