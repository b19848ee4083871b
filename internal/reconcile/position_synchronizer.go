package reconcile

import (
	"context"

	"dcaengine/internal/core"
	"dcaengine/internal/notify"
)

// PositionSynchronizer implements spec.md §4.E.4: identical to the
// Consistency Checker's watching-divergence scenario, packaged separately
// so it can run at a higher cadence without the stuck-buying scan.
type PositionSynchronizer struct{ deps }

func NewPositionSynchronizer(store core.CycleStore, broker core.BrokerGateway, logger core.ILogger, notifier *notify.Notifier) *PositionSynchronizer {
	return &PositionSynchronizer{deps: newDeps(store, broker, logger.WithField("worker", "position_synchronizer"), notifier)}
}

func (w *PositionSynchronizer) Name() string { return "position_synchronizer" }

func (w *PositionSynchronizer) RunOnce(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Worker: w.Name(), DryRun: dryRun}

	cycles, err := w.store.ListNonTerminalCycles(ctx)
	if err != nil {
		return report, err
	}

	for _, cycle := range cycles {
		if cycle.Status != core.StatusWatching {
			continue
		}
		report.Inspected++
		if err := reconcileWatchingDivergence(ctx, w.deps, report, cycle, dryRun); err != nil {
			w.logger.Error("position sync failed", "cycle_id", cycle.ID, "error", err)
		}
	}

	return report, nil
}
