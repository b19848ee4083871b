package reconcile

import (
	"context"
	"testing"
	"time"

	"dcaengine/internal/broker/paper"
	"dcaengine/internal/core"
	"dcaengine/internal/store"
	"dcaengine/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestDeps(t *testing.T) (*store.SQLiteStore, *paper.Gateway) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, paper.New()
}

func seedAsset(t *testing.T, db *store.SQLiteStore) *core.AssetConfig {
	t.Helper()
	asset, err := db.UpsertAsset(context.Background(), &core.AssetConfig{
		Symbol:                  "BTC/USD",
		Enabled:                 true,
		BaseOrderAmount:         dec("100"),
		SafetyOrderAmount:       dec("100"),
		MaxSafetyOrders:         2,
		SafetyOrderDeviationPct: dec("2"),
		TakeProfitPct:           dec("1"),
		CooldownSeconds:         60,
		LastSellPrice:           decimal.Zero,
	})
	require.NoError(t, err)
	return asset
}

// TestConsistencyChecker_StuckBuying_RevertsAndIsIdempotent covers spec.md
// §4.E.2 scenario 1 and the round-trip idempotence law (spec.md §8): running
// the worker twice back-to-back with no intervening events is a no-op on
// the second run.
func TestConsistencyChecker_StuckBuying_RevertsAndIsIdempotent(t *testing.T) {
	db, broker := newTestDeps(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	cycle, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusBuying})
	require.NoError(t, err)

	orderID := "stuck-order"
	oldCreatedAt := core.OptionalTime{Set: true, Value: time.Now().Add(-10 * time.Minute)}
	require.NoError(t, db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		LatestOrderID:        &orderID,
		LatestOrderCreatedAt: &oldCreatedAt,
	}))

	checker := NewConsistencyChecker(db, broker, testutil.NoopLogger{}, nil)

	report, err := checker.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Changed)

	reverted, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusWatching, reverted.Status)
	require.Empty(t, reverted.LatestOrderID)

	// Second pass: already watching, nothing left to do.
	report2, err := checker.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, report2.Changed)
}

// TestConsistencyChecker_WatchingDivergence_SyncsFromBrokerPosition covers
// spec.md §4.E.2 scenario 2: overwrite quantity from the broker (the paper
// broker reports no average, so the average is left as is) without touching
// lastOrderFillPrice or safetyOrders.
func TestConsistencyChecker_WatchingDivergence_SyncsFromBrokerPosition(t *testing.T) {
	db, broker := newTestDeps(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	fillPrice := dec("50000")
	cycle, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusWatching})
	require.NoError(t, err)
	safetyOrders := 1
	require.NoError(t, db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Quantity:             ptrDec("0.002"),
		AveragePurchasePrice: ptrDec("50000"),
		SafetyOrders:         &safetyOrders,
		LastOrderFillPrice:   &fillPrice,
	}))

	broker.SetPosition(asset.Symbol, dec("0.00404"))

	checker := NewConsistencyChecker(db, broker, testutil.NoopLogger{}, nil)
	report, err := checker.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Changed)

	synced, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, synced.Quantity.Equal(dec("0.00404")))
	require.Equal(t, 1, synced.SafetyOrders, "lastOrderFillPrice/safetyOrders must not be touched")
	require.NotNil(t, synced.LastOrderFillPrice)
	require.True(t, synced.LastOrderFillPrice.Equal(fillPrice))

	// Idempotent: running again with the same broker position changes nothing.
	report2, err := checker.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, report2.Changed)
}

// TestConsistencyChecker_WatchingDivergence_NoPositionMarksError covers the
// "position absent but cycle.quantity > 0" branch: mark error, spawn a fresh
// watching cycle.
func TestConsistencyChecker_WatchingDivergence_NoPositionMarksError(t *testing.T) {
	db, broker := newTestDeps(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	cycle, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusWatching})
	require.NoError(t, err)
	require.NoError(t, db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		Quantity:             ptrDec("0.002"),
		AveragePurchasePrice: ptrDec("50000"),
	}))

	checker := NewConsistencyChecker(db, broker, testutil.NoopLogger{}, nil)
	report, err := checker.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Changed)

	errored, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	// GetLatestCycle returns the newest cycle, i.e. the freshly created one.
	require.Equal(t, core.StatusWatching, errored.Status)
	require.True(t, errored.Quantity.IsZero())
}

// TestCooldownReleaser_ReleasesAfterElapsedWindow is scenario 6 from the
// seed suite (spec.md §8): no-op before cooldownSeconds elapse, release at
// or after the boundary.
func TestCooldownReleaser_ReleasesAfterElapsedWindow(t *testing.T) {
	db, broker := newTestDeps(t)
	asset := seedAsset(t, db) // cooldownSeconds = 60
	ctx := context.Background()

	predecessor, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusWatching})
	require.NoError(t, err)
	complete := core.StatusComplete
	completedAt := time.Now().Add(-59 * time.Second)
	require.NoError(t, db.UpdateCycle(ctx, predecessor.ID, core.CycleUpdateFields{
		Status:      &complete,
		CompletedAt: &core.OptionalTime{Set: true, Value: completedAt},
	}))

	cooldown, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusCooldown})
	require.NoError(t, err)

	releaser := NewCooldownReleaser(db, broker, testutil.NoopLogger{}, nil)

	// 59s in: must still be within the cooldown window.
	report, err := releaser.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, report.Changed)

	// Push the predecessor's completedAt back so 60s have elapsed.
	completedAt = time.Now().Add(-60 * time.Second)
	require.NoError(t, db.UpdateCycle(ctx, predecessor.ID, core.CycleUpdateFields{
		CompletedAt: &core.OptionalTime{Set: true, Value: completedAt},
	}))

	report, err = releaser.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Changed)

	released, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, cooldown.ID, released.ID)
	require.Equal(t, core.StatusWatching, released.Status)

	// Second pass: already watching, nothing left to release.
	report2, err := releaser.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 0, report2.Changed)
}

// TestDryRun_NeverWrites exercises the dry-run contract (shared by all four
// workers) on the consistency checker: intended changes are reported but
// never persisted.
func TestDryRun_NeverWrites(t *testing.T) {
	db, broker := newTestDeps(t)
	asset := seedAsset(t, db)
	ctx := context.Background()

	cycle, err := db.CreateCycle(ctx, core.CycleCreateFields{AssetID: asset.ID, Status: core.StatusBuying})
	require.NoError(t, err)
	orderID := "stuck-order"
	oldCreatedAt := core.OptionalTime{Set: true, Value: time.Now().Add(-10 * time.Minute)}
	require.NoError(t, db.UpdateCycle(ctx, cycle.ID, core.CycleUpdateFields{
		LatestOrderID:        &orderID,
		LatestOrderCreatedAt: &oldCreatedAt,
	}))

	checker := NewConsistencyChecker(db, broker, testutil.NoopLogger{}, nil)
	report, err := checker.RunOnce(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.Changed)
	require.True(t, report.DryRun)

	unchanged, err := db.GetLatestCycle(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, core.StatusBuying, unchanged.Status, "dry-run must not persist the revert")
}

func ptrDec(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
