package store

import (
	"context"
	"testing"

	"dcaengine/internal/core"
	"dcaengine/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAsset(t *testing.T, db *SQLiteStore) *core.AssetConfig {
	t.Helper()
	asset, err := db.UpsertAsset(context.Background(), &core.AssetConfig{
		Symbol:                  "BTC/USD",
		Enabled:                 true,
		BaseOrderAmount:         decimal.RequireFromString("100"),
		SafetyOrderAmount:       decimal.RequireFromString("100"),
		MaxSafetyOrders:         2,
		SafetyOrderDeviationPct: decimal.RequireFromString("2"),
		TakeProfitPct:           decimal.RequireFromString("1"),
		CooldownSeconds:         60,
		LastSellPrice:           decimal.Zero,
	})
	require.NoError(t, err)
	return asset
}

func TestUpsertAsset_IdempotentAcrossRestarts(t *testing.T) {
	db := newTestStore(t)
	first := seedAsset(t, db)
	second := seedAsset(t, db)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateAndUpdateCycle_RoundTripsDecimals(t *testing.T) {
	db := newTestStore(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	cycle, err := db.CreateCycle(ctx, core.CycleCreateFields{
		AssetID: asset.ID, Status: core.StatusWatching, Quantity: decimal.Zero,
	})
	require.NoError(t, err)
	require.Equal(t, core.StatusWatching, cycle.Status)

	qty := decimal.RequireFromString("0.00204081632653")
	avg := decimal.RequireFromString("49495.049504950495")
	status := core.StatusWatching
	orderID := "order-123"

	err = db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Status:               &status,
		Quantity:             &qty,
		AveragePurchasePrice: &avg,
		LatestOrderID:        &orderID,
	})
	require.NoError(t, err)

	reloaded, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Quantity.Equal(qty), "got %s", reloaded.Quantity)
	require.True(t, reloaded.AveragePurchasePrice.Equal(avg))
	require.Equal(t, orderID, reloaded.LatestOrderID)

	byOrder, err := db.FindCycleByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, byOrder)
	require.Equal(t, cycle.ID, byOrder.ID)
}

func TestUpdateCycle_ClearLatestOrderIDRemovesFromLookup(t *testing.T) {
	db := newTestStore(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	cycle, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusBuying})
	require.NoError(t, err)

	orderID := "order-abc"
	require.NoError(t, db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{LatestOrderID: &orderID}))

	found, err := db.FindCycleByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, found)

	require.NoError(t, db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{ClearLatestOrderID: true}))

	found, err = db.FindCycleByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.Nil(t, found, "clearing latest_order_id must drop it from order lookup (orphan-event tolerance)")
}

func TestUpdateCycle_NotFoundReturnsStoreConflict(t *testing.T) {
	db := newTestStore(t)
	status := core.StatusWatching
	err := db.UpdateCycle(context.Background(), 999, core.CycleUpdateFields{Status: &status})
	require.Error(t, err)
	require.Equal(t, apperrors.KindStoreConflict, apperrors.KindOf(err))
}

func TestListNonTerminalCycles_ExcludesCompleteAndError(t *testing.T) {
	db := newTestStore(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	watching, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusWatching})
	require.NoError(t, err)
	complete, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusComplete})
	require.NoError(t, err)

	cycles, err := db.ListNonTerminalCycles(ctx)
	require.NoError(t, err)

	ids := make(map[int64]bool)
	for _, c := range cycles {
		ids[c.ID] = true
	}
	require.True(t, ids[watching.ID])
	require.False(t, ids[complete.ID])
}

func TestGetPredecessorCycle_FindsMostRecentTerminalBefore(t *testing.T) {
	db := newTestStore(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	predecessor, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusWatching})
	require.NoError(t, err)
	status := core.StatusComplete
	require.NoError(t, db.UpdateCycle(ctx, predecessor.ID, core.CycleUpdateFields{
		Status:      &status,
		CompletedAt: &core.OptionalTime{Set: true},
	}))

	successor, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusCooldown})
	require.NoError(t, err)

	found, err := db.GetPredecessorCycle(ctx, asset.ID, successor.CreatedAt.Add(1))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, predecessor.ID, found.ID)
}
