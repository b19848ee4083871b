package reconcile

import (
	"context"
	"time"

	"dcaengine/internal/core"
	"dcaengine/internal/notify"
	"dcaengine/internal/telemetry"

	"github.com/shopspring/decimal"
)

const stuckBuyingThreshold = 5 * time.Minute

// ConsistencyChecker implements spec.md §4.E.2: the "stuck buying" and
// "watching divergence" scenarios.
type ConsistencyChecker struct{ deps }

func NewConsistencyChecker(store core.CycleStore, broker core.BrokerGateway, logger core.ILogger, notifier *notify.Notifier) *ConsistencyChecker {
	return &ConsistencyChecker{deps: newDeps(store, broker, logger.WithField("worker", "consistency_checker"), notifier)}
}

func (w *ConsistencyChecker) Name() string { return "consistency_checker" }

func (w *ConsistencyChecker) RunOnce(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Worker: w.Name(), DryRun: dryRun}

	cycles, err := w.store.ListNonTerminalCycles(ctx)
	if err != nil {
		return report, err
	}

	counts := make(map[core.CycleStatus]int)
	for _, cycle := range cycles {
		report.Inspected++
		counts[cycle.Status]++
		switch cycle.Status {
		case core.StatusBuying:
			if err := w.checkStuckBuying(ctx, report, cycle, dryRun); err != nil {
				w.logger.Error("stuck-buying check failed", "cycle_id", cycle.ID, "error", err)
			}
		case core.StatusWatching:
			if err := w.checkWatchingDivergence(ctx, report, cycle, dryRun); err != nil {
				w.logger.Error("watching-divergence check failed", "cycle_id", cycle.ID, "error", err)
			}
		}
	}

	telemetry.CyclesByStatus.Reset()
	for status, n := range counts {
		telemetry.CyclesByStatus.WithLabelValues(string(status)).Set(float64(n))
	}

	return report, nil
}

func (w *ConsistencyChecker) checkStuckBuying(ctx context.Context, report *Report, cycle *core.Cycle, dryRun bool) error {
	stuck := cycle.LatestOrderID == ""

	var order *core.Order
	if !stuck {
		var err error
		order, err = w.broker.GetOrder(ctx, cycle.LatestOrderID)
		if err != nil {
			return err
		}
		if order == nil || !order.IsOpen() {
			stuck = true
		} else if cycle.LatestOrderCreatedAt != nil && w.now().Sub(*cycle.LatestOrderCreatedAt) >= stuckBuyingThreshold {
			stuck = true
		}
	}

	if !stuck {
		return nil
	}

	report.note("reverting stuck buying cycle %d to watching", cycle.ID)
	if dryRun {
		report.Changed++
		return nil
	}

	watching := core.StatusWatching
	err := w.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Status:               &watching,
		ClearLatestOrderID:   true,
		LatestOrderCreatedAt: &core.OptionalTime{Set: false},
	})
	if err != nil {
		return err
	}
	report.Changed++
	return nil
}

// checkWatchingDivergence delegates to reconcileWatchingDivergence, which
// PositionSynchronizer also calls directly (spec.md §4.E.4 is identical to
// this scenario, just scheduled more frequently).
func (w *ConsistencyChecker) checkWatchingDivergence(ctx context.Context, report *Report, cycle *core.Cycle, dryRun bool) error {
	return reconcileWatchingDivergence(ctx, w.deps, report, cycle, dryRun)
}

func reconcileWatchingDivergence(ctx context.Context, d deps, report *Report, cycle *core.Cycle, dryRun bool) error {
	asset, err := d.store.GetAssetByID(ctx, cycle.AssetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return nil
	}

	position, err := d.broker.GetPosition(ctx, asset.Symbol)
	if err != nil {
		return err
	}

	if position != nil {
		// position.AvgEntryPrice is nil for brokers that can't report a cost
		// basis (e.g. a Binance spot balance); treat that as "no opinion" on
		// average rather than diverging the cycle's average to zero.
		avgDiverged := position.AvgEntryPrice != nil && !position.AvgEntryPrice.Equal(cycle.AveragePurchasePrice)
		if position.Qty.Equal(cycle.Quantity) && !avgDiverged {
			return nil
		}
		avgStr := "unknown"
		if position.AvgEntryPrice != nil {
			avgStr = position.AvgEntryPrice.String()
		}
		report.note("syncing cycle %d from broker position (qty %s->%s, avg %s->%s)",
			cycle.ID, cycle.Quantity, position.Qty, cycle.AveragePurchasePrice, avgStr)
		if dryRun {
			report.Changed++
			return nil
		}
		fields := core.CycleUpdateFields{Quantity: &position.Qty}
		if position.AvgEntryPrice != nil {
			fields.AveragePurchasePrice = position.AvgEntryPrice
		}
		if err := d.store.UpdateCycle(ctx, cycle.ID, fields); err != nil {
			return err
		}
		report.Changed++
		return nil
	}

	if cycle.Quantity.IsPositive() {
		report.note("marking cycle %d error: broker reports no position but cycle.quantity=%s", cycle.ID, cycle.Quantity)
		if dryRun {
			report.Changed++
			return nil
		}
		errored := core.StatusError
		if err := d.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{Status: &errored}); err != nil {
			return err
		}
		if _, err := d.store.CreateCycle(ctx, core.CycleCreateFields{
			AssetID:  cycle.AssetID,
			Status:   core.StatusWatching,
			Quantity: decimal.Zero,
		}); err != nil {
			return err
		}
		d.alert("cycle_error", "broker reports no position but cycle carried a positive quantity; halted for operator review", cycle.AssetID, cycle.ID)
		report.Changed++
		return nil
	}

	// Position absent and cycle.quantity == 0: consistent, no-op.
	return nil
}
