package reconcile

import (
	"context"
	"time"

	"dcaengine/internal/core"
	"dcaengine/internal/notify"
)

// CooldownReleaser implements spec.md §4.E.3.
type CooldownReleaser struct{ deps }

func NewCooldownReleaser(store core.CycleStore, broker core.BrokerGateway, logger core.ILogger, notifier *notify.Notifier) *CooldownReleaser {
	return &CooldownReleaser{deps: newDeps(store, broker, logger.WithField("worker", "cooldown_releaser"), notifier)}
}

func (w *CooldownReleaser) Name() string { return "cooldown_releaser" }

func (w *CooldownReleaser) RunOnce(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Worker: w.Name(), DryRun: dryRun}

	cycles, err := w.store.ListNonTerminalCycles(ctx)
	if err != nil {
		return report, err
	}

	for _, cycle := range cycles {
		if cycle.Status != core.StatusCooldown {
			continue
		}
		report.Inspected++

		asset, err := w.store.GetAssetByID(ctx, cycle.AssetID)
		if err != nil {
			w.logger.Error("failed to load asset for cooldown cycle", "cycle_id", cycle.ID, "error", err)
			continue
		}
		if asset == nil {
			continue
		}

		predecessor, err := w.findPredecessor(ctx, cycle)
		if err != nil {
			w.logger.Error("failed to find predecessor cycle", "cycle_id", cycle.ID, "error", err)
			continue
		}
		if predecessor == nil || predecessor.CompletedAt == nil {
			continue
		}

		releaseAt := predecessor.CompletedAt.Add(time.Duration(asset.CooldownSeconds) * time.Second)
		if w.now().Before(releaseAt) {
			continue
		}

		report.note("releasing cooldown cycle %d (predecessor %d completed at %s)",
			cycle.ID, predecessor.ID, predecessor.CompletedAt)
		if dryRun {
			report.Changed++
			continue
		}

		watching := core.StatusWatching
		if err := w.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{Status: &watching}); err != nil {
			w.logger.Error("failed to release cooldown cycle", "cycle_id", cycle.ID, "error", err)
			continue
		}
		report.Changed++
	}

	return report, nil
}

// findPredecessor finds the most recent terminal cycle for the asset
// created before this cooldown cycle, anchoring the cooldown window.
func (w *CooldownReleaser) findPredecessor(ctx context.Context, cooldownCycle *core.Cycle) (*core.Cycle, error) {
	return w.store.GetPredecessorCycle(ctx, cooldownCycle.AssetID, cooldownCycle.CreatedAt)
}
