package store

// schema is applied once at startup (idempotent via IF NOT EXISTS), laying
// out the two relational tables named in spec.md §6. Monetary/quantity
// columns are TEXT so decimal.Decimal round-trips exactly — SQLite has no
// arbitrary-precision numeric type, the one place this store falls back to
// a string-encoded decimal convention (see SPEC_FULL.md §3).
const schema = `
CREATE TABLE IF NOT EXISTS dca_assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1,
	base_order_amount TEXT NOT NULL DEFAULT '0',
	safety_order_amount TEXT NOT NULL DEFAULT '0',
	max_safety_orders INTEGER NOT NULL DEFAULT 0,
	safety_order_deviation_pct TEXT NOT NULL DEFAULT '0',
	take_profit_pct TEXT NOT NULL DEFAULT '0',
	ttp_enabled INTEGER NOT NULL DEFAULT 0,
	ttp_deviation_pct TEXT NOT NULL DEFAULT '0',
	cooldown_seconds INTEGER NOT NULL DEFAULT 60,
	last_sell_price TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS dca_cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	asset_id INTEGER NOT NULL REFERENCES dca_assets(id),
	status TEXT NOT NULL,
	quantity TEXT NOT NULL DEFAULT '0',
	average_purchase_price TEXT NOT NULL DEFAULT '0',
	safety_orders INTEGER NOT NULL DEFAULT 0,
	latest_order_id TEXT,
	latest_order_created_at TIMESTAMP,
	last_order_fill_price TEXT,
	highest_trailing_price TEXT,
	sell_price TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dca_cycles_asset_created ON dca_cycles(asset_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_dca_cycles_latest_order ON dca_cycles(latest_order_id);
`
