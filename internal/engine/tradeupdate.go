package engine

import (
	"context"
	"time"

	"dcaengine/internal/core"
	"dcaengine/internal/telemetry"

	"github.com/shopspring/decimal"
)

// handleTradeUpdate implements the fill/cancel state machine (spec.md
// §4.D). Orphan events — an order no active cycle references, typically
// because a reconciliation worker already cleared latestOrderId — are
// logged at info and dropped (spec.md §9).
func (e *Engine) handleTradeUpdate(tu core.TradeUpdate) {
	ctx := context.Background()
	log := e.logger.WithField("order_id", tu.Order.ID)

	if tu.Event == core.EventPartialFill {
		log.Debug("partial fill received, informational only")
		return
	}
	if !tu.Event.IsTerminal() {
		return
	}

	cycle, err := e.store.FindCycleByOrderID(ctx, tu.Order.ID)
	if err != nil {
		log.Error("failed to look up cycle for order", "error", err)
		return
	}
	if cycle == nil {
		log.Info("orphan trade update, no cycle references this order", "event", tu.Event)
		telemetry.OrphanEvents.Inc()
		return
	}
	log = log.WithField("cycle_id", cycle.ID).WithField("asset_id", cycle.AssetID)
	telemetry.FillsProcessed.WithLabelValues(tu.Order.Symbol, string(tu.Event)).Inc()

	switch tu.Order.Side {
	case core.SideBuy:
		e.handleBuyTerminal(ctx, log, cycle, tu)
	case core.SideSell:
		e.handleSellTerminal(ctx, log, cycle, tu)
	}
}

// handleBuyTerminal applies spec.md §4.D "On terminal fill of a BUY", and
// the canceled/rejected/expired partial-fill-accounting rule for BUY
// orders.
func (e *Engine) handleBuyTerminal(ctx context.Context, log core.ILogger, cycle *core.Cycle, tu core.TradeUpdate) {
	filledQty := tu.Order.FilledQty
	fillPrice := tu.Order.FilledAvgPrice
	if tu.Event == core.EventFill {
		filledQty = tu.FillQty
		fillPrice = tu.FillPrice
	}

	if tu.Event != core.EventFill && !filledQty.IsPositive() {
		// No fills at all: simply revert to watching.
		watching := core.StatusWatching
		err := e.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
			Status:             &watching,
			ClearLatestOrderID: true,
			LatestOrderCreatedAt: &core.OptionalTime{Set: false},
		})
		if err != nil {
			log.Error("failed to revert canceled buy to watching", "error", err)
		}
		return
	}

	wasBaseOrder := cycle.Quantity.IsZero()

	newQty := cycle.Quantity.Add(filledQty)
	newAvg := weightedAverage(cycle.Quantity, cycle.AveragePurchasePrice, filledQty, fillPrice)

	if pos, err := e.broker.GetPosition(ctx, tu.Order.Symbol); err != nil {
		log.Warn("failed to fetch position for buy-fill reconciliation, using local weighted average", "error", err)
	} else if pos != nil && pos.AvgEntryPrice != nil {
		newQty = pos.Qty
		newAvg = *pos.AvgEntryPrice
	} else if pos != nil {
		log.Debug("broker position has no cost basis, using local weighted average", "qty", pos.Qty)
	}

	safetyOrders := cycle.SafetyOrders
	if !wasBaseOrder {
		safetyOrders++
	}

	watching := core.StatusWatching
	err := e.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Status:               &watching,
		Quantity:             &newQty,
		AveragePurchasePrice: &newAvg,
		SafetyOrders:         &safetyOrders,
		LastOrderFillPrice:   &fillPrice,
		ClearLatestOrderID:   true,
		LatestOrderCreatedAt: &core.OptionalTime{Set: false},
	})
	if err != nil {
		log.Error("failed to apply buy-fill update", "error", err)
	}
}

// handleSellTerminal applies spec.md §4.D "On terminal fill of a SELL" and
// the canceled/rejected/expired ambiguity resolution from spec.md §9: a
// canceled sell with no positive evidence of a fill reverts to watching,
// it never completes the cycle on inferred absence.
func (e *Engine) handleSellTerminal(ctx context.Context, log core.ILogger, cycle *core.Cycle, tu core.TradeUpdate) {
	filledQty := tu.Order.FilledQty
	fillPrice := tu.Order.FilledAvgPrice
	if tu.Event == core.EventFill {
		filledQty = tu.FillQty
		fillPrice = tu.FillPrice
	}

	completesCycle := tu.Event == core.EventFill
	if !completesCycle && filledQty.IsPositive() {
		// Partial fills on a canceled/rejected/expired sell: only treat as
		// a completed cycle if the broker confirms the position is now
		// empty — positive evidence, per spec.md §9.
		if pos, err := e.broker.GetPosition(ctx, tu.Order.Symbol); err == nil {
			if pos == nil || !pos.Qty.IsPositive() {
				completesCycle = true
			}
		}
	}

	if completesCycle {
		e.completeCycleWithSell(ctx, log, cycle, fillPrice)
		return
	}

	// No positive evidence of a completing fill: revert to watching,
	// preserving existing quantity/average (spec.md §9).
	watching := core.StatusWatching
	err := e.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Status:               &watching,
		ClearLatestOrderID:   true,
		LatestOrderCreatedAt: &core.OptionalTime{Set: false},
	})
	if err != nil {
		log.Error("failed to revert sell to watching", "error", err)
	}
}

func (e *Engine) completeCycleWithSell(ctx context.Context, log core.ILogger, cycle *core.Cycle, fillPrice decimal.Decimal) {
	complete := core.StatusComplete
	zero := decimal.Zero
	err := e.store.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Status:               &complete,
		Quantity:             &zero,
		AveragePurchasePrice: &zero,
		SellPrice:            &fillPrice,
		ClearLatestOrderID:   true,
		LatestOrderCreatedAt: &core.OptionalTime{Set: false},
		CompletedAt:          &core.OptionalTime{Set: true, Value: time.Now()},
	})
	if err != nil {
		log.Error("failed to complete cycle", "error", err)
		return
	}

	if err := e.store.UpdateAsset(ctx, cycle.AssetID, core.AssetUpdateFields{LastSellPrice: &fillPrice}); err != nil {
		log.Error("failed to update asset last sell price", "error", err)
	}

	if _, err := e.store.CreateCycle(ctx, core.CycleCreateFields{
		AssetID:  cycle.AssetID,
		Status:   core.StatusCooldown,
		Quantity: decimal.Zero,
	}); err != nil {
		log.Error("failed to create successor cooldown cycle", "error", err)
	}
}

func weightedAverage(oldQty, oldAvg, fillQty, fillPrice decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(fillQty)
	if !newQty.IsPositive() {
		return decimal.Zero
	}
	numerator := oldQty.Mul(oldAvg).Add(fillQty.Mul(fillPrice))
	return numerator.Div(newQty)
}
