package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OptionalTime distinguishes "leave unchanged" (nil *OptionalTime) from
// "clear" (OptionalTime{Set: false}) and "set" (OptionalTime{Set: true,
// Value: t}) in a partial-update struct.
type OptionalTime struct {
	Set   bool
	Value time.Time
}

// ILogger is the structured logging contract every component depends on.
// Implementations attach key/value fields (asset_id, cycle_id, order_id,
// component) the way the teacher's zap-backed logger does.
type ILogger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	WithField(key string, value interface{}) ILogger
}

// QuoteHandler receives a single normalized market tick.
type QuoteHandler func(Quote)

// TradeUpdateHandler receives a single trade-update delivery.
type TradeUpdateHandler func(TradeUpdate)

// BrokerGateway is the thin typed wrapper over the exchange REST/WebSocket
// API (spec.md §4.A). Every numeric field crossing this boundary is a
// decimal.Decimal; symbol normalization is the implementation's job.
type BrokerGateway interface {
	SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice decimal.Decimal) (*Order, error)
	SubmitMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOpenOrders(ctx context.Context) ([]*Order, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// StreamQuotes is long-lived; it blocks until ctx is canceled, invoking
	// onQuote for every delivered tick. Implementations auto-reconnect.
	StreamQuotes(ctx context.Context, symbols []string, onQuote QuoteHandler) error

	// StreamTradeUpdates is long-lived; at-least-once delivery, callers must
	// tolerate duplicates (dedupe by ExecutionID where provided).
	StreamTradeUpdates(ctx context.Context, onUpdate TradeUpdateHandler) error
}

// CycleStore is the persistent store of asset configurations and cycles
// (spec.md §4.B). Update operations are single-row atomic.
type CycleStore interface {
	GetAsset(ctx context.Context, symbol string) (*AssetConfig, error)
	GetAssetByID(ctx context.Context, id int64) (*AssetConfig, error)
	ListEnabledAssets(ctx context.Context) ([]*AssetConfig, error)
	UpdateAsset(ctx context.Context, id int64, fields AssetUpdateFields) error
	UpsertAsset(ctx context.Context, cfg *AssetConfig) (*AssetConfig, error)

	GetLatestCycle(ctx context.Context, assetID int64) (*Cycle, error)
	FindCycleByOrderID(ctx context.Context, orderID string) (*Cycle, error)
	CreateCycle(ctx context.Context, fields CycleCreateFields) (*Cycle, error)
	UpdateCycle(ctx context.Context, id int64, fields CycleUpdateFields) error

	// GetPredecessorCycle returns the most recent terminal (complete or
	// error) cycle for the asset created strictly before beforeCreatedAt,
	// or nil if none exists. Used by the Cooldown Releaser to find the
	// cycle whose completedAt anchors the cooldown window.
	GetPredecessorCycle(ctx context.Context, assetID int64, beforeCreatedAt time.Time) (*Cycle, error)

	// ListNonTerminalCycles returns every cycle, across all assets, whose
	// status is neither complete nor error; the reconciliation workers scan
	// it on each pass.
	ListNonTerminalCycles(ctx context.Context) ([]*Cycle, error)
}

// AssetUpdateFields is a partial-field mutation for AssetConfig.
type AssetUpdateFields struct {
	Enabled       *bool
	LastSellPrice *decimal.Decimal
}

// CycleCreateFields seeds a brand-new cycle row.
type CycleCreateFields struct {
	AssetID  int64
	Status   CycleStatus
	Quantity decimal.Decimal
}

// CycleUpdateFields is a partial-field mutation for Cycle; nil fields are
// left untouched by the store's UPDATE statement.
type CycleUpdateFields struct {
	Status               *CycleStatus
	Quantity             *decimal.Decimal
	AveragePurchasePrice *decimal.Decimal
	SafetyOrders         *int
	LatestOrderID        *string
	ClearLatestOrderID   bool
	LatestOrderCreatedAt *OptionalTime
	LastOrderFillPrice   *decimal.Decimal
	HighestTrailingPrice *decimal.Decimal
	ClearHighestTrailing bool
	SellPrice            *decimal.Decimal
	CompletedAt          *OptionalTime
}
