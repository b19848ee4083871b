// Package store implements core.CycleStore over SQLite, grounded in the
// teacher's internal/engine/simple SQLiteStore (market_maker repo): a
// single *sql.DB in WAL mode, schema applied at startup, every write a
// single-row atomic statement inside its own transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dcaengine/internal/core"
	"dcaengine/pkg/apperrors"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements core.CycleStore.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (if necessary) and opens the SQLite database at path,
// applying the schema and enabling WAL mode. The pool is capped at one
// connection, so all reads and writes are serialized through it.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer; reconciliation and the
	// live loop serialize through this one connection, matching the
	// store's "single-row atomic" contract (spec.md §4.B).

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*SQLiteStore, error) {
	return Open("file::memory:?cache=shared")
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func decStr(d decimal.Decimal) string { return d.String() }

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// --- Assets ---------------------------------------------------------------

func scanAsset(row interface {
	Scan(dest ...interface{}) error
}) (*core.AssetConfig, error) {
	var a core.AssetConfig
	var enabled, ttpEnabled int
	var baseAmt, safetyAmt, devPct, tpPct, ttpDevPct, lastSell string
	if err := row.Scan(
		&a.ID, &a.Symbol, &enabled, &baseAmt, &safetyAmt, &a.MaxSafetyOrders,
		&devPct, &tpPct, &ttpEnabled, &ttpDevPct, &a.CooldownSeconds, &lastSell,
	); err != nil {
		return nil, err
	}
	a.Enabled = enabled != 0
	a.TTPEnabled = ttpEnabled != 0
	a.BaseOrderAmount = parseDec(baseAmt)
	a.SafetyOrderAmount = parseDec(safetyAmt)
	a.SafetyOrderDeviationPct = parseDec(devPct)
	a.TakeProfitPct = parseDec(tpPct)
	a.TTPDeviationPct = parseDec(ttpDevPct)
	a.LastSellPrice = parseDec(lastSell)
	return &a, nil
}

const assetColumns = `id, symbol, enabled, base_order_amount, safety_order_amount, max_safety_orders,
	safety_order_deviation_pct, take_profit_pct, ttp_enabled, ttp_deviation_pct, cooldown_seconds, last_sell_price`

func (s *SQLiteStore) GetAsset(ctx context.Context, symbol string) (*core.AssetConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM dca_assets WHERE symbol = ?`, symbol)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) GetAssetByID(ctx context.Context, id int64) (*core.AssetConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM dca_assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) ListEnabledAssets(ctx context.Context) ([]*core.AssetConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM dca_assets WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.AssetConfig
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAsset inserts a new asset or, if the symbol already exists, leaves
// it untouched and returns the existing row — seeding is idempotent across
// restarts.
func (s *SQLiteStore) UpsertAsset(ctx context.Context, cfg *core.AssetConfig) (*core.AssetConfig, error) {
	existing, err := s.GetAsset(ctx, cfg.Symbol)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO dca_assets
		(symbol, enabled, base_order_amount, safety_order_amount, max_safety_orders,
		 safety_order_deviation_pct, take_profit_pct, ttp_enabled, ttp_deviation_pct,
		 cooldown_seconds, last_sell_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Symbol, boolToInt(cfg.Enabled), decStr(cfg.BaseOrderAmount), decStr(cfg.SafetyOrderAmount),
		cfg.MaxSafetyOrders, decStr(cfg.SafetyOrderDeviationPct), decStr(cfg.TakeProfitPct),
		boolToInt(cfg.TTPEnabled), decStr(cfg.TTPDeviationPct), cfg.CooldownSeconds, decStr(cfg.LastSellPrice),
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetAssetByID(ctx, id)
}

func (s *SQLiteStore) UpdateAsset(ctx context.Context, id int64, fields core.AssetUpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	if fields.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*fields.Enabled))
	}
	if fields.LastSellPrice != nil {
		sets = append(sets, "last_sell_price = ?")
		args = append(args, decStr(*fields.LastSellPrice))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := "UPDATE dca_assets SET " + joinComma(sets) + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return checkRowFound(res, id, "asset")
}

// --- Cycles ----------------------------------------------------------------

const cycleColumns = `id, asset_id, status, quantity, average_purchase_price, safety_orders,
	latest_order_id, latest_order_created_at, last_order_fill_price, highest_trailing_price,
	sell_price, created_at, updated_at, completed_at`

func scanCycle(row interface {
	Scan(dest ...interface{}) error
}) (*core.Cycle, error) {
	var c core.Cycle
	var quantity, avgPrice string
	var latestOrderID, lastFillPrice, highestTrailing, sellPrice sql.NullString
	var latestOrderCreatedAt, completedAt sql.NullTime
	var createdAt, updatedAt time.Time
	var status string

	if err := row.Scan(
		&c.ID, &c.AssetID, &status, &quantity, &avgPrice, &c.SafetyOrders,
		&latestOrderID, &latestOrderCreatedAt, &lastFillPrice, &highestTrailing,
		&sellPrice, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	c.Status = core.CycleStatus(status)
	c.Quantity = parseDec(quantity)
	c.AveragePurchasePrice = parseDec(avgPrice)
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	if latestOrderID.Valid {
		c.LatestOrderID = latestOrderID.String
	}
	if latestOrderCreatedAt.Valid {
		t := latestOrderCreatedAt.Time
		c.LatestOrderCreatedAt = &t
	}
	if lastFillPrice.Valid {
		d := parseDec(lastFillPrice.String)
		c.LastOrderFillPrice = &d
	}
	if highestTrailing.Valid {
		d := parseDec(highestTrailing.String)
		c.HighestTrailingPrice = &d
	}
	if sellPrice.Valid {
		d := parseDec(sellPrice.String)
		c.SellPrice = &d
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) GetLatestCycle(ctx context.Context, assetID int64) (*core.Cycle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM dca_cycles WHERE asset_id = ? ORDER BY created_at DESC LIMIT 1`, assetID)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) FindCycleByOrderID(ctx context.Context, orderID string) (*core.Cycle, error) {
	if orderID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM dca_cycles WHERE latest_order_id = ? LIMIT 1`, orderID)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetPredecessorCycle(ctx context.Context, assetID int64, beforeCreatedAt time.Time) (*core.Cycle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM dca_cycles
		 WHERE asset_id = ? AND status IN (?, ?) AND created_at < ?
		 ORDER BY created_at DESC LIMIT 1`,
		assetID, string(core.StatusComplete), string(core.StatusError), beforeCreatedAt)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListNonTerminalCycles(ctx context.Context) ([]*core.Cycle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM dca_cycles WHERE status NOT IN (?, ?)`,
		string(core.StatusComplete), string(core.StatusError))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateCycle(ctx context.Context, fields core.CycleCreateFields) (*core.Cycle, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO dca_cycles
		(asset_id, status, quantity, average_purchase_price, safety_orders, created_at, updated_at)
		VALUES (?, ?, ?, '0', 0, ?, ?)`,
		fields.AssetID, string(fields.Status), decStr(fields.Quantity), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert cycle: %w", err)
	}
	id, _ := res.LastInsertId()
	row := s.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM dca_cycles WHERE id = ?`, id)
	return scanCycle(row)
}

// UpdateCycle applies a single-row atomic partial update, the store's
// concurrency boundary (spec.md §5's "shared-resource policy").
func (s *SQLiteStore) UpdateCycle(ctx context.Context, id int64, fields core.CycleUpdateFields) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*fields.Status))
	}
	if fields.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, decStr(*fields.Quantity))
	}
	if fields.AveragePurchasePrice != nil {
		sets = append(sets, "average_purchase_price = ?")
		args = append(args, decStr(*fields.AveragePurchasePrice))
	}
	if fields.SafetyOrders != nil {
		sets = append(sets, "safety_orders = ?")
		args = append(args, *fields.SafetyOrders)
	}
	if fields.ClearLatestOrderID {
		sets = append(sets, "latest_order_id = NULL", "latest_order_created_at = NULL")
	} else if fields.LatestOrderID != nil {
		sets = append(sets, "latest_order_id = ?")
		args = append(args, *fields.LatestOrderID)
	}
	if fields.LatestOrderCreatedAt != nil {
		if fields.LatestOrderCreatedAt.Set {
			sets = append(sets, "latest_order_created_at = ?")
			args = append(args, fields.LatestOrderCreatedAt.Value)
		} else {
			sets = append(sets, "latest_order_created_at = NULL")
		}
	}
	if fields.LastOrderFillPrice != nil {
		sets = append(sets, "last_order_fill_price = ?")
		args = append(args, decStr(*fields.LastOrderFillPrice))
	}
	if fields.ClearHighestTrailing {
		sets = append(sets, "highest_trailing_price = NULL")
	} else if fields.HighestTrailingPrice != nil {
		sets = append(sets, "highest_trailing_price = ?")
		args = append(args, decStr(*fields.HighestTrailingPrice))
	}
	if fields.SellPrice != nil {
		sets = append(sets, "sell_price = ?")
		args = append(args, decStr(*fields.SellPrice))
	}
	if fields.CompletedAt != nil {
		if fields.CompletedAt.Set {
			sets = append(sets, "completed_at = ?")
			args = append(args, fields.CompletedAt.Value)
		} else {
			sets = append(sets, "completed_at = NULL")
		}
	}

	args = append(args, id)
	q := "UPDATE dca_cycles SET " + joinComma(sets) + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return checkRowFound(res, id, "cycle")
}

func checkRowFound(res sql.Result, id int64, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		e := apperrors.New(apperrors.KindStoreConflict, fmt.Sprintf("%s not found", kind), nil)
		if kind == "cycle" {
			return e.WithCycle(id)
		}
		return e.WithAsset(id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
