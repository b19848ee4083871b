// Package strategy implements the three pure Strategy Core decision
// functions (spec.md §4.C): decideBaseOrder, decideSafetyOrder,
// decideTakeProfit. No I/O — inputs are a market tick, asset config, cycle,
// and optional live position; outputs are an optional core.Action.
//
// Grounded in the teacher's pure CalculateActions strategy functions
// (market_maker/internal/trading/strategy/grid.go,
// market_maker/internal/trading/grid/strategy.go), generalized from
// grid-slot math to the base/safety/take-profit decision tree.
package strategy

import (
	"sync/atomic"

	"dcaengine/internal/core"

	"github.com/shopspring/decimal"
)

var testingMode atomic.Bool

// SetTestingMode toggles the +5%-of-ask buy-limit inflation used to force
// immediate fills in integration tests (spec.md §4.C, §9). Production must
// default this off.
func SetTestingMode(enabled bool) { testingMode.Store(enabled) }

// TestingMode reports the current flag value.
func TestingMode() bool { return testingMode.Load() }

func buyLimitPrice(ask decimal.Decimal) decimal.Decimal {
	if testingMode.Load() {
		return ask.Mul(decimal.NewFromFloat(1.05))
	}
	return ask
}

// DecideBaseOrder implements spec.md §4.C "decideBaseOrder".
func DecideBaseOrder(quote core.Quote, asset *core.AssetConfig, cycle *core.Cycle, livePosition *core.Position) *core.Action {
	if asset == nil || !asset.Enabled || cycle == nil {
		return nil
	}
	if cycle.Status != core.StatusWatching || !cycle.Quantity.IsZero() {
		return nil
	}
	if livePosition != nil && livePosition.Qty.GreaterThanOrEqual(core.MinOrderSize) {
		return nil
	}
	if !quote.AskPrice.IsPositive() || !quote.BidPrice.IsPositive() || !asset.BaseOrderAmount.IsPositive() {
		return nil
	}

	qty := asset.BaseOrderAmount.Div(quote.AskPrice)
	status := core.StatusBuying
	return &core.Action{
		Order: &core.OrderIntent{
			Side:       core.SideBuy,
			Type:       core.OrderTypeLimit,
			Qty:        qty,
			LimitPrice: buyLimitPrice(quote.AskPrice),
		},
		Cycle: &core.CycleUpdateIntent{Status: &status},
	}
}

// DecideSafetyOrder implements spec.md §4.C "decideSafetyOrder".
func DecideSafetyOrder(quote core.Quote, asset *core.AssetConfig, cycle *core.Cycle) *core.Action {
	if asset == nil || !asset.Enabled || cycle == nil {
		return nil
	}
	if cycle.Status != core.StatusWatching || !cycle.Quantity.IsPositive() {
		return nil
	}
	if cycle.SafetyOrders >= asset.MaxSafetyOrders {
		return nil
	}
	if cycle.LastOrderFillPrice == nil {
		return nil
	}

	trigger := cycle.LastOrderFillPrice.Mul(
		decimal.NewFromInt(1).Sub(asset.SafetyOrderDeviationPct.Div(decimal.NewFromInt(100))),
	)
	if quote.AskPrice.GreaterThan(trigger) {
		return nil
	}

	qty := asset.SafetyOrderAmount.Div(quote.AskPrice)
	status := core.StatusBuying
	return &core.Action{
		Order: &core.OrderIntent{
			Side:       core.SideBuy,
			Type:       core.OrderTypeLimit,
			Qty:        qty,
			LimitPrice: buyLimitPrice(quote.AskPrice),
		},
		Cycle: &core.CycleUpdateIntent{Status: &status},
	}
}

// DecideTakeProfit implements spec.md §4.C "decideTakeProfit", including the
// safety-order precedence rule and the TTP arm/trail/sell branches.
func DecideTakeProfit(quote core.Quote, asset *core.AssetConfig, cycle *core.Cycle, livePosition *core.Position) *core.Action {
	if asset == nil || !asset.Enabled || cycle == nil {
		return nil
	}
	if cycle.Status != core.StatusWatching && cycle.Status != core.StatusTrailing {
		return nil
	}
	if !cycle.Quantity.IsPositive() || !cycle.AveragePurchasePrice.IsPositive() {
		return nil
	}

	// Safety-order precedence: buying beats selling on the same tick.
	if DecideSafetyOrder(quote, asset, cycle) != nil {
		return nil
	}

	tpTrigger := cycle.AveragePurchasePrice.Mul(
		decimal.NewFromInt(1).Add(asset.TakeProfitPct.Div(decimal.NewFromInt(100))),
	)

	sellQty := cycle.Quantity
	if livePosition != nil && livePosition.Qty.IsPositive() {
		sellQty = livePosition.Qty
	}

	if !asset.TTPEnabled {
		if quote.BidPrice.GreaterThanOrEqual(tpTrigger) {
			return sellAction(sellQty)
		}
		return nil
	}

	switch cycle.Status {
	case core.StatusWatching:
		if quote.BidPrice.GreaterThanOrEqual(tpTrigger) {
			status := core.StatusTrailing
			peak := quote.BidPrice
			return &core.Action{
				TTP: &core.TTPUpdateIntent{Status: &status, HighestTrailingPrice: &peak},
			}
		}
		return nil

	case core.StatusTrailing:
		if cycle.HighestTrailingPrice == nil {
			return nil
		}
		if quote.BidPrice.GreaterThan(*cycle.HighestTrailingPrice) {
			peak := quote.BidPrice
			return &core.Action{TTP: &core.TTPUpdateIntent{HighestTrailingPrice: &peak}}
		}
		dropTrigger := cycle.HighestTrailingPrice.Mul(
			decimal.NewFromInt(1).Sub(asset.TTPDeviationPct.Div(decimal.NewFromInt(100))),
		)
		if quote.BidPrice.LessThan(dropTrigger) {
			return sellAction(sellQty)
		}
		return nil
	}
	return nil
}

func sellAction(qty decimal.Decimal) *core.Action {
	if qty.LessThan(core.MinOrderSize) {
		return &core.Action{Warn: "computed sell quantity below minimum order size; sell skipped, cycle status unchanged"}
	}
	status := core.StatusSelling
	return &core.Action{
		Order: &core.OrderIntent{
			Side: core.SideSell,
			Type: core.OrderTypeMarket,
			Qty:  qty,
		},
		Cycle: &core.CycleUpdateIntent{Status: &status},
	}
}
