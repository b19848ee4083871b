// Package paper implements core.BrokerGateway as an in-memory simulator,
// used for DRY_RUN_MODE and TESTING_MODE (spec.md §4.C, §9) and as the
// broker double driving the engine/reconcile test suites. Grounded in the
// teacher's in-memory exchange fake (archive/legacy/exchange/mock), adapted
// from a grid-fill simulator to immediate-fill limit/market matching against
// a fed quote feed.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dcaengine/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is a single-process, goroutine-safe simulated broker. Orders fill
// immediately against the last quote seen for their symbol: a limit buy
// fills if its price is >= the current ask, a market sell fills at the
// current bid; with no quote yet fed for the symbol, either order stays
// open. This mirrors the teacher's mock exchange's "fill on next
// tick" convention, collapsed to synchronous fills for deterministic tests.
type Gateway struct {
	mu       sync.Mutex
	orders   map[string]*core.Order
	quotes   map[string]core.Quote
	balances map[string]decimal.Decimal

	quoteSubs  []core.QuoteHandler
	updateSubs []core.TradeUpdateHandler
}

// New creates an empty paper Gateway.
func New() *Gateway {
	return &Gateway{
		orders:   make(map[string]*core.Order),
		quotes:   make(map[string]core.Quote),
		balances: make(map[string]decimal.Decimal),
	}
}

// nextID mints a synthetic order/execution id. Grounded in the teacher's
// own client-correlation-id convention (market_maker/pkg/liveserver/server.go
// uses uuid.New().String() for the same purpose).
func (g *Gateway) nextID() string {
	return uuid.New().String()
}

// Feed injects a quote as if received from the exchange, driving fills and
// fanning the tick out to any subscribed StreamQuotes callers. Test code
// calls this directly in place of a live websocket.
func (g *Gateway) Feed(q core.Quote) {
	g.mu.Lock()
	g.quotes[q.Symbol] = q
	subs := append([]core.QuoteHandler(nil), g.quoteSubs...)
	g.mu.Unlock()

	for _, sub := range subs {
		sub(q)
	}
}

func (g *Gateway) SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice decimal.Decimal) (*core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order := &core.Order{
		ID:         g.nextID(),
		Symbol:     symbol,
		Side:       core.SideBuy,
		Type:       core.OrderTypeLimit,
		Status:     core.EventNew,
		Qty:        qty,
		LimitPrice: limitPrice,
		CreatedAt:  time.Now(),
	}
	g.orders[order.ID] = order

	if q, ok := g.quotes[symbol]; ok && q.AskPrice.LessThanOrEqual(limitPrice) {
		g.fillLocked(order, q.AskPrice, qty)
	}
	return cloneOrder(order), nil
}

func (g *Gateway) SubmitMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	order := &core.Order{
		ID:        g.nextID(),
		Symbol:    symbol,
		Side:      core.SideSell,
		Type:      core.OrderTypeMarket,
		Status:    core.EventNew,
		Qty:       qty,
		CreatedAt: time.Now(),
	}
	g.orders[order.ID] = order

	q, ok := g.quotes[symbol]
	if !ok {
		return cloneOrder(order), nil
	}
	g.fillLocked(order, q.BidPrice, qty)
	return cloneOrder(order), nil
}

// fillLocked marks order fully filled and notifies trade-update
// subscribers; callers must hold g.mu.
func (g *Gateway) fillLocked(order *core.Order, price, qty decimal.Decimal) {
	now := time.Now()
	order.Status = core.EventFill
	order.FilledQty = qty
	order.FilledAvgPrice = price
	order.FilledAt = &now

	update := core.TradeUpdate{
		Event:       core.EventFill,
		Order:       *cloneOrder(order),
		FillPrice:   price,
		FillQty:     qty,
		ExecutionID: g.nextID(),
	}
	subs := append([]core.TradeUpdateHandler(nil), g.updateSubs...)
	go func() {
		for _, sub := range subs {
			sub(update)
		}
	}()
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	if !order.IsOpen() {
		return nil
	}
	now := time.Now()
	order.Status = core.EventCanceled
	order.CanceledAt = &now

	update := core.TradeUpdate{Event: core.EventCanceled, Order: *cloneOrder(order)}
	subs := append([]core.TradeUpdateHandler(nil), g.updateSubs...)
	go func() {
		for _, sub := range subs {
			sub(update)
		}
	}()
	return nil
}

// GetOrder implements spec.md §4.A's `getOrder(orderId) → Order | NotFound |
// Err` tri-state: an unknown order id is NotFound, reported as (nil, nil),
// never as an error — callers (e.g. reconcile's stuck-order checks) must be
// able to tell "broker has no record of this order" apart from a transient
// lookup failure.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return nil, nil
	}
	return cloneOrder(order), nil
}

func (g *Gateway) ListOpenOrders(ctx context.Context) ([]*core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*core.Order, 0)
	for _, o := range g.orders {
		if o.IsOpen() {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

// GetPosition returns the seeded synthetic balance for symbol. Like a real
// spot balance it carries no cost basis, so AvgEntryPrice is left nil.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	qty, ok := g.balances[symbol]
	if !ok || qty.IsZero() {
		return nil, nil
	}
	return &core.Position{Symbol: symbol, Qty: qty}, nil
}

// SetPosition seeds a synthetic live position for reconciliation tests.
func (g *Gateway) SetPosition(symbol string, qty decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[symbol] = qty
}

func (g *Gateway) StreamQuotes(ctx context.Context, symbols []string, onQuote core.QuoteHandler) error {
	g.mu.Lock()
	g.quoteSubs = append(g.quoteSubs, onQuote)
	g.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (g *Gateway) StreamTradeUpdates(ctx context.Context, onUpdate core.TradeUpdateHandler) error {
	g.mu.Lock()
	g.updateSubs = append(g.updateSubs, onUpdate)
	g.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func cloneOrder(o *core.Order) *core.Order {
	c := *o
	return &c
}
