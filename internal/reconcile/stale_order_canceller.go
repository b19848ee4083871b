package reconcile

import (
	"context"
	"time"

	"dcaengine/internal/core"
	"dcaengine/internal/notify"
)

const (
	staleBuyLimitSeconds   = 300
	stuckMarketSellSeconds = 75
)

// StaleOrderCanceller implements spec.md §4.E.1.
type StaleOrderCanceller struct{ deps }

// NewStaleOrderCanceller builds the worker over the given dependencies.
func NewStaleOrderCanceller(store core.CycleStore, broker core.BrokerGateway, logger core.ILogger, notifier *notify.Notifier) *StaleOrderCanceller {
	return &StaleOrderCanceller{deps: newDeps(store, broker, logger.WithField("worker", "stale_order_canceller"), notifier)}
}

func (w *StaleOrderCanceller) Name() string { return "stale_order_canceller" }

func (w *StaleOrderCanceller) RunOnce(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Worker: w.Name(), DryRun: dryRun}
	now := w.now()

	openOrders, err := w.broker.ListOpenOrders(ctx)
	if err != nil {
		return report, err
	}

	nonTerminal, err := w.store.ListNonTerminalCycles(ctx)
	if err != nil {
		return report, err
	}
	trackedOrderIDs := make(map[string]*core.Cycle, len(nonTerminal))
	for _, c := range nonTerminal {
		if c.LatestOrderID != "" {
			trackedOrderIDs[c.LatestOrderID] = c
		}
	}

	for _, order := range openOrders {
		report.Inspected++
		age := now.Sub(order.CreatedAt)

		if order.Side == core.SideBuy && order.Type == core.OrderTypeLimit && age >= staleBuyLimitSeconds*time.Second {
			if _, tracked := trackedOrderIDs[order.ID]; tracked {
				report.note("preserving tracked stale buy limit %s (age %s)", order.ID, age)
				continue
			}
			report.note("canceling orphaned stale buy limit %s (age %s)", order.ID, age)
			if dryRun {
				report.Changed++
				continue
			}
			if err := w.broker.CancelOrder(ctx, order.ID); err != nil {
				w.logger.Error("failed to cancel orphaned stale order", "order_id", order.ID, "error", err)
				continue
			}
			report.Changed++
		}
	}

	for _, cycle := range nonTerminal {
		if cycle.Status != core.StatusSelling || cycle.LatestOrderCreatedAt == nil {
			continue
		}
		age := now.Sub(*cycle.LatestOrderCreatedAt)
		if age < stuckMarketSellSeconds*time.Second {
			continue
		}
		report.Inspected++

		order, err := w.broker.GetOrder(ctx, cycle.LatestOrderID)
		if err != nil {
			w.logger.Warn("failed to fetch stuck sell order", "cycle_id", cycle.ID, "error", err)
			continue
		}
		if order == nil || !order.IsOpen() {
			// Already terminal on the broker side; the trade-update stream
			// will deliver the event.
			continue
		}

		report.note("canceling stuck market sell for cycle %d (age %s)", cycle.ID, age)
		if dryRun {
			report.Changed++
			continue
		}
		if err := w.broker.CancelOrder(ctx, order.ID); err != nil {
			w.logger.Error("failed to cancel stuck market sell", "cycle_id", cycle.ID, "error", err)
			continue
		}
		report.Changed++
	}

	return report, nil
}
