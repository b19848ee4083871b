// Package core defines the domain types and interfaces shared by every
// component of the DCA engine: the persisted data model, the broker and
// store contracts, and the intents the strategy layer hands back to the
// event loop.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinOrderSize is the dust threshold below which a residual position or a
// computed sell quantity is treated as zero.
var MinOrderSize = decimal.RequireFromString("0.000000002")

// CycleStatus is the lifecycle state of a Cycle.
type CycleStatus string

const (
	StatusWatching CycleStatus = "watching"
	StatusBuying   CycleStatus = "buying"
	StatusSelling  CycleStatus = "selling"
	StatusTrailing CycleStatus = "trailing"
	StatusCooldown CycleStatus = "cooldown"
	StatusComplete CycleStatus = "complete"
	StatusError    CycleStatus = "error"
)

// OrderSide mirrors the broker's buy/sell side.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the order type submitted to the broker.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// EventType enumerates the trade-update stream's event kinds.
type EventType string

const (
	EventNew          EventType = "new"
	EventPartialFill  EventType = "partial_fill"
	EventFill         EventType = "fill"
	EventCanceled     EventType = "canceled"
	EventRejected     EventType = "rejected"
	EventExpired      EventType = "expired"
)

// IsTerminal reports whether the event concludes an order's lifecycle.
func (e EventType) IsTerminal() bool {
	switch e {
	case EventFill, EventCanceled, EventRejected, EventExpired:
		return true
	default:
		return false
	}
}

// AssetConfig is the read-mostly configuration for one tradable symbol.
type AssetConfig struct {
	ID      int64
	Symbol  string
	Enabled bool

	BaseOrderAmount   decimal.Decimal
	SafetyOrderAmount decimal.Decimal

	MaxSafetyOrders         int
	SafetyOrderDeviationPct decimal.Decimal

	TakeProfitPct decimal.Decimal
	TTPEnabled    bool
	TTPDeviationPct decimal.Decimal

	CooldownSeconds int64

	LastSellPrice decimal.Decimal
}

// Cycle is one buy-accumulate-sell episode for an asset.
type Cycle struct {
	ID      int64
	AssetID int64
	Status  CycleStatus

	Quantity             decimal.Decimal
	AveragePurchasePrice decimal.Decimal
	SafetyOrders         int

	LatestOrderID        string
	LatestOrderCreatedAt *time.Time

	LastOrderFillPrice *decimal.Decimal
	HighestTrailingPrice *decimal.Decimal
	SellPrice            *decimal.Decimal

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// HasOpenOrder reports whether the cycle currently has an in-flight order.
func (c *Cycle) HasOpenOrder() bool {
	return c.LatestOrderID != ""
}

// Quote is a single bid/ask tick for a symbol.
type Quote struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Timestamp time.Time
}

// Order is the broker's view of an order, normalized to decimal.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         EventType
	Qty            decimal.Decimal
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	LimitPrice     decimal.Decimal
	CreatedAt      time.Time
	FilledAt       *time.Time
	CanceledAt     *time.Time
}

// IsOpen reports whether the broker still considers the order active.
func (o *Order) IsOpen() bool {
	return o.Status == EventNew || o.Status == EventPartialFill
}

// TradeUpdate is a single delivery from the trade-update stream.
type TradeUpdate struct {
	Event       EventType
	Order       Order
	FillPrice   decimal.Decimal
	FillQty     decimal.Decimal
	ExecutionID string
}

// Position is the broker's live view of a symbol's holdings. AvgEntryPrice
// is nil when the gateway has no way to supply a cost basis (e.g. a spot
// balance, which carries no entry price) — callers must fall back to their
// own locally tracked average rather than treat nil as zero.
type Position struct {
	Symbol        string
	Qty           decimal.Decimal
	AvgEntryPrice *decimal.Decimal
}

// OrderIntent is a request to submit an order, emitted by Strategy Core.
type OrderIntent struct {
	Side       OrderSide
	Type       OrderType
	Qty        decimal.Decimal
	LimitPrice decimal.Decimal
}

// CycleUpdateIntent is a partial-field mutation to apply to a Cycle.
type CycleUpdateIntent struct {
	Status               *CycleStatus
	Quantity             *decimal.Decimal
	AveragePurchasePrice *decimal.Decimal
	SafetyOrders         *int
	LastOrderFillPrice   *decimal.Decimal
}

// TTPUpdateIntent is a partial-field mutation specific to trailing
// take-profit bookkeeping. It is split out from CycleUpdateIntent because it
// can fire (arm/raise the trail) without an accompanying order.
type TTPUpdateIntent struct {
	Status               *CycleStatus
	HighestTrailingPrice *decimal.Decimal
}

// Action bundles up to three intents returned by a Strategy Core function.
type Action struct {
	Order *OrderIntent
	Cycle *CycleUpdateIntent
	TTP   *TTPUpdateIntent
	Warn  string
}
