package reconcile

import (
	"context"

	"dcaengine/internal/core"
	"dcaengine/internal/notify"
	"dcaengine/internal/telemetry"

	"github.com/robfig/cron/v3"
)

// Scheduler drives every Worker on its own periodic schedule via
// robfig/cron — reconciliation runs independently of, and potentially
// concurrent with, the Live Event Loop (spec.md §5).
type Scheduler struct {
	cron   *cron.Cron
	logger core.ILogger
	dryRun bool
}

// NewScheduler wires the four reconciliation workers onto cron schedules:
// the stale-order canceller, consistency checker, and cooldown releaser
// run on the spec's baseline ~1 minute cadence; the position synchronizer
// runs more frequently, matching its lighter-weight scope (spec.md §4.E.4).
func NewScheduler(logger core.ILogger, dryRun bool, store core.CycleStore, broker core.BrokerGateway, notifier *notify.Notifier) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(),
		logger: logger.WithField("component", "reconcile_scheduler"),
		dryRun: dryRun,
	}

	s.schedule("@every 1m", NewStaleOrderCanceller(store, broker, logger, notifier))
	s.schedule("@every 1m", NewConsistencyChecker(store, broker, logger, notifier))
	s.schedule("@every 1m", NewCooldownReleaser(store, broker, logger, notifier))
	s.schedule("@every 15s", NewPositionSynchronizer(store, broker, logger, notifier))

	return s
}

func (s *Scheduler) schedule(spec string, w Worker) {
	_, err := s.cron.AddFunc(spec, func() {
		report, err := w.RunOnce(context.Background(), s.dryRun)
		if err != nil {
			s.logger.Error("reconciliation worker failed", "worker", w.Name(), "error", err)
			return
		}
		if report.Changed > 0 {
			s.logger.Info("reconciliation worker made changes",
				"worker", w.Name(), "inspected", report.Inspected, "changed", report.Changed,
				"dry_run", report.DryRun, "notes", report.Notes)
			if !report.DryRun {
				telemetry.ReconciliationRepairs.WithLabelValues(w.Name(), "repair").Add(float64(report.Changed))
			}
		} else {
			s.logger.Debug("reconciliation worker ran", "worker", w.Name(), "inspected", report.Inspected)
		}
	})
	if err != nil {
		s.logger.Error("failed to schedule reconciliation worker", "worker", w.Name(), "spec", spec, "error", err)
	}
}

// Start begins running all scheduled workers in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop blocks until any in-flight runs complete, then stops the scheduler.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
