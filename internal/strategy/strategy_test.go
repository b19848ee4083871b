package strategy

import (
	"testing"
	"time"

	"dcaengine/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseAsset() *core.AssetConfig {
	return &core.AssetConfig{
		ID:                      1,
		Symbol:                  "BTC/USD",
		Enabled:                 true,
		BaseOrderAmount:         dec("100"),
		SafetyOrderAmount:       dec("100"),
		MaxSafetyOrders:         2,
		SafetyOrderDeviationPct: dec("2"),
		TakeProfitPct:           dec("1"),
		CooldownSeconds:         60,
	}
}

func TestDecideBaseOrder(t *testing.T) {
	asset := baseAsset()
	cycle := &core.Cycle{ID: 10, AssetID: 1, Status: core.StatusWatching, Quantity: decimal.Zero}
	quote := core.Quote{Symbol: "BTC/USD", AskPrice: dec("50000"), BidPrice: dec("49950")}

	action := DecideBaseOrder(quote, asset, cycle, nil)
	require.NotNil(t, action)
	require.NotNil(t, action.Order)
	assert.Equal(t, core.SideBuy, action.Order.Side)
	assert.True(t, action.Order.Qty.Equal(dec("0.002")), "qty = %s", action.Order.Qty)
	assert.True(t, action.Order.LimitPrice.Equal(dec("50000")))
	require.NotNil(t, action.Cycle.Status)
	assert.Equal(t, core.StatusBuying, *action.Cycle.Status)
}

func TestDecideBaseOrder_DustPositionIgnoredRealPositionBlocks(t *testing.T) {
	asset := baseAsset()
	cycle := &core.Cycle{ID: 10, AssetID: 1, Status: core.StatusWatching, Quantity: decimal.Zero}
	quote := core.Quote{AskPrice: dec("50000"), BidPrice: dec("49950")}

	// Dust below 2e-9 must not block a new base order.
	dust := &core.Position{Symbol: "BTC/USD", Qty: dec("0.0000000001")}
	action := DecideBaseOrder(quote, asset, cycle, dust)
	assert.NotNil(t, action)

	real := &core.Position{Symbol: "BTC/USD", Qty: dec("0.5")}
	action = DecideBaseOrder(quote, asset, cycle, real)
	assert.Nil(t, action)
}

func TestDecideSafetyOrder_FiresOnEqualityBoundary(t *testing.T) {
	asset := baseAsset()
	fillPrice := dec("50000")
	cycle := &core.Cycle{
		ID: 10, AssetID: 1, Status: core.StatusWatching,
		Quantity: dec("0.002"), LastOrderFillPrice: &fillPrice,
	}

	// 49000 = 50000 * (1 - 2/100) exactly: the boundary must fire.
	quote := core.Quote{AskPrice: dec("49000"), BidPrice: dec("48950")}
	action := DecideSafetyOrder(quote, asset, cycle)
	require.NotNil(t, action)
	assert.True(t, action.Order.Qty.Equal(dec("100").Div(dec("49000"))))
	assert.Equal(t, core.StatusBuying, *action.Cycle.Status)

	// One tick above the trigger must not fire.
	quote.AskPrice = dec("49000.01")
	action = DecideSafetyOrder(quote, asset, cycle)
	assert.Nil(t, action)
}

func TestDecideSafetyOrder_RespectsMaxSafetyOrders(t *testing.T) {
	asset := baseAsset()
	fillPrice := dec("50000")
	cycle := &core.Cycle{
		ID: 10, AssetID: 1, Status: core.StatusWatching,
		Quantity: dec("0.002"), SafetyOrders: 2, LastOrderFillPrice: &fillPrice,
	}
	quote := core.Quote{AskPrice: dec("40000"), BidPrice: dec("39950")}
	assert.Nil(t, DecideSafetyOrder(quote, asset, cycle))
}

func TestDecideTakeProfit_TTPDisabled_FiresOnEqualityBoundary(t *testing.T) {
	asset := baseAsset()
	asset.TTPEnabled = false
	cycle := &core.Cycle{
		ID: 10, AssetID: 1, Status: core.StatusWatching,
		Quantity: dec("0.004"), AveragePurchasePrice: dec("49495.05"),
	}

	trigger := cycle.AveragePurchasePrice.Mul(dec("1.01"))
	quote := core.Quote{AskPrice: dec("50100"), BidPrice: trigger}

	action := DecideTakeProfit(quote, asset, cycle, nil)
	require.NotNil(t, action)
	require.NotNil(t, action.Order)
	assert.Equal(t, core.SideSell, action.Order.Side)
	assert.Equal(t, core.OrderTypeMarket, action.Order.Type)
	assert.True(t, action.Order.Qty.Equal(cycle.Quantity))
	assert.Equal(t, core.StatusSelling, *action.Cycle.Status)
}

func TestDecideTakeProfit_SafetyOrderPrecedence(t *testing.T) {
	asset := baseAsset()
	fillPrice := dec("50000")
	cycle := &core.Cycle{
		ID: 10, AssetID: 1, Status: core.StatusWatching,
		Quantity: dec("0.002"), AveragePurchasePrice: dec("50000"),
		LastOrderFillPrice: &fillPrice,
	}

	// Ask at the safety-order trigger AND bid above take-profit trigger:
	// buying beats selling on the same tick.
	quote := core.Quote{AskPrice: dec("49000"), BidPrice: dec("51000")}
	assert.Nil(t, DecideTakeProfit(quote, asset, cycle, nil))
}

func TestDecideTakeProfit_TTPArmTrailSell(t *testing.T) {
	asset := baseAsset()
	asset.TTPEnabled = true
	asset.TakeProfitPct = dec("1")
	asset.TTPDeviationPct = dec("0.5")
	cycle := &core.Cycle{
		ID: 10, AssetID: 1, Status: core.StatusWatching,
		Quantity: dec("0.01"), AveragePurchasePrice: dec("100000"),
	}

	// Arm: bid 101000 >= 100000*1.01 = 101000 (equality arms).
	action := DecideTakeProfit(core.Quote{AskPrice: dec("101100"), BidPrice: dec("101000")}, asset, cycle, nil)
	require.NotNil(t, action)
	require.NotNil(t, action.TTP)
	assert.Nil(t, action.Order)
	assert.Equal(t, core.StatusTrailing, *action.TTP.Status)
	assert.True(t, action.TTP.HighestTrailingPrice.Equal(dec("101000")))

	cycle.Status = core.StatusTrailing
	peak := dec("101000")
	cycle.HighestTrailingPrice = &peak

	// Raise the peak.
	action = DecideTakeProfit(core.Quote{AskPrice: dec("102100"), BidPrice: dec("102000")}, asset, cycle, nil)
	require.NotNil(t, action)
	require.NotNil(t, action.TTP)
	assert.Nil(t, action.Order)
	assert.True(t, action.TTP.HighestTrailingPrice.Equal(dec("102000")))
	peak = dec("102000")
	cycle.HighestTrailingPrice = &peak

	// Drop below peak*0.995 = 101490 triggers the sell.
	action = DecideTakeProfit(core.Quote{AskPrice: dec("101500"), BidPrice: dec("101400")}, asset, cycle, nil)
	require.NotNil(t, action)
	require.NotNil(t, action.Order)
	assert.Equal(t, core.SideSell, action.Order.Side)
	assert.Equal(t, core.StatusSelling, *action.Cycle.Status)
}

func TestSellAction_RejectsDustQuantity(t *testing.T) {
	action := sellAction(dec("0.000000001"))
	require.NotNil(t, action)
	assert.Nil(t, action.Order)
	assert.NotEmpty(t, action.Warn)
}

func TestBuyLimitPrice_TestingModeInflatesByFivePercent(t *testing.T) {
	SetTestingMode(true)
	defer SetTestingMode(false)

	ask := dec("50000")
	got := buyLimitPrice(ask)
	assert.True(t, got.Equal(dec("52500")), "got %s", got)
}

func TestCooldownReleaseTiming(t *testing.T) {
	// Scenario 6 from the seed suite: cooldown release boundary.
	completedAt := time.Now().Add(-59 * time.Second)
	releaseAt := completedAt.Add(60 * time.Second)
	assert.True(t, time.Now().Before(releaseAt), "59s after completion must still be within cooldown")

	completedAt = time.Now().Add(-60 * time.Second)
	releaseAt = completedAt.Add(60 * time.Second)
	assert.False(t, time.Now().Before(releaseAt), "60s after completion must release")
}
