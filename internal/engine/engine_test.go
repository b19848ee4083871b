package engine

import (
	"context"
	"testing"
	"time"

	"dcaengine/internal/broker/paper"
	"dcaengine/internal/core"
	"dcaengine/internal/store"
	"dcaengine/internal/strategy"
	"dcaengine/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore, *paper.Gateway, *core.AssetConfig) {
	t.Helper()
	strategy.SetTestingMode(false)

	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	asset, err := db.UpsertAsset(context.Background(), &core.AssetConfig{
		Symbol:                  "BTC/USD",
		Enabled:                 true,
		BaseOrderAmount:         dec("100"),
		SafetyOrderAmount:       dec("100"),
		MaxSafetyOrders:         2,
		SafetyOrderDeviationPct: dec("2"),
		TakeProfitPct:           dec("1"),
		CooldownSeconds:         60,
	})
	require.NoError(t, err)

	_, err = db.CreateCycle(context.Background(), core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusWatching})
	require.NoError(t, err)

	broker := paper.New()
	eng := New(broker, db, testutil.NoopLogger{}, []string{asset.Symbol}, time.Millisecond)
	return eng, db, broker, asset
}

// deliverFill fetches the just-placed order from the broker and feeds its
// terminal state directly into the trade-update handler, the way the
// broker's stream would, without depending on goroutine timing.
func deliverFill(t *testing.T, eng *Engine, broker *paper.Gateway, orderID string) {
	t.Helper()
	order, err := broker.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, core.EventFill, order.Status, "paper broker fills limit/market orders immediately against the fed quote")

	eng.handleTradeUpdate(core.TradeUpdate{
		Event:       core.EventFill,
		Order:       *order,
		FillPrice:   order.FilledAvgPrice,
		FillQty:     order.FilledQty,
		ExecutionID: "exec-" + orderID,
	})
}

func TestEngine_BaseOrderThroughTakeProfitLifecycle(t *testing.T) {
	eng, db, broker, asset := newTestEngine(t)
	ctx := context.Background()

	// Scenario 1: base order.
	q1 := core.Quote{Symbol: asset.Symbol, AskPrice: dec("50000"), BidPrice: dec("49950")}
	broker.Feed(q1)
	eng.handleQuote(q1)

	cycle, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusBuying, cycle.Status)
	require.NotEmpty(t, cycle.LatestOrderID)

	deliverFill(t, eng, broker, cycle.LatestOrderID)

	cycle, err = db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusWatching, cycle.Status)
	require.True(t, cycle.Quantity.Equal(dec("0.002")), "got %s", cycle.Quantity)
	require.True(t, cycle.AveragePurchasePrice.Equal(dec("50000")))
	require.Equal(t, 0, cycle.SafetyOrders)
	require.Empty(t, cycle.LatestOrderID)

	// Scenario 2: safety order at the exact deviation boundary.
	q2 := core.Quote{Symbol: asset.Symbol, AskPrice: dec("49000"), BidPrice: dec("48950")}
	broker.Feed(q2)
	eng.handleQuote(q2)

	cycle, err = db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusBuying, cycle.Status)

	deliverFill(t, eng, broker, cycle.LatestOrderID)

	cycle, err = db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusWatching, cycle.Status)
	require.Equal(t, 1, cycle.SafetyOrders)
	require.True(t, cycle.Quantity.GreaterThan(dec("0.002")))

	// Scenario 3: take-profit, TTP disabled.
	avgBeforeSell := cycle.AveragePurchasePrice
	tpTrigger := avgBeforeSell.Mul(dec("1.01"))
	q3 := core.Quote{Symbol: asset.Symbol, AskPrice: tpTrigger.Add(dec("10")), BidPrice: tpTrigger}
	broker.Feed(q3)
	eng.handleQuote(q3)

	cycle, err = db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusSelling, cycle.Status)

	deliverFill(t, eng, broker, cycle.LatestOrderID)

	complete, err := db.GetAssetByID(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, complete.LastSellPrice.Equal(tpTrigger))

	newCycle, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusCooldown, newCycle.Status)
	require.True(t, newCycle.Quantity.IsZero())
}

func TestEngine_TradeUpdate_OrphanEventIsDropped(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	// No cycle references this order id: must not panic, must just log+drop.
	eng.handleTradeUpdate(core.TradeUpdate{
		Event: core.EventFill,
		Order: core.Order{ID: "nonexistent-order", Side: core.SideBuy, Symbol: "BTC/USD"},
	})
}

func TestEngine_TradeUpdate_PartialFillIsInformationalOnly(t *testing.T) {
	eng, db, broker, asset := newTestEngine(t)
	ctx := context.Background()

	q1 := core.Quote{Symbol: asset.Symbol, AskPrice: dec("50000"), BidPrice: dec("49950")}
	broker.Feed(q1)
	eng.handleQuote(q1)

	cycle, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	before := *cycle

	eng.handleTradeUpdate(core.TradeUpdate{
		Event: core.EventPartialFill,
		Order: core.Order{ID: cycle.LatestOrderID, Side: core.SideBuy, Symbol: asset.Symbol, FilledQty: dec("0.0005")},
	})

	after, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
	require.True(t, before.Quantity.Equal(after.Quantity))
}

func TestEngine_QuoteHandler_PerSymbolThrottleSuppressesRepeatActions(t *testing.T) {
	eng, db, broker, asset := newTestEngine(t)
	ctx := context.Background()
	eng.orderCooldown = time.Hour

	q1 := core.Quote{Symbol: asset.Symbol, AskPrice: dec("50000"), BidPrice: dec("49950")}
	broker.Feed(q1)
	eng.handleQuote(q1)

	cycle, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	firstOrderID := cycle.LatestOrderID
	require.NotEmpty(t, firstOrderID)

	// A second quote within the throttle window must not submit another
	// order even though the strategy functions would otherwise fire again.
	eng.handleQuote(q1)
	cycle, err = db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, firstOrderID, cycle.LatestOrderID)
}
