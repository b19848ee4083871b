// Package binance implements core.BrokerGateway over the spot
// github.com/adshao/go-binance/v2 client, grounded in the teacher's own
// Binance adapter (archive/legacy/exchange/binance/adapter.go,
// exchange/binance/websocket.go): a thin REST+stream wrapper that
// normalizes the SDK's types into the core domain model.
package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dcaengine/internal/core"
	"dcaengine/pkg/apperrors"

	binancesdk "github.com/adshao/go-binance/v2"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Gateway implements core.BrokerGateway against Binance spot.
type Gateway struct {
	client  *binancesdk.Client
	limiter *rate.Limiter
	policy  failsafe.Executor[any]
	logger  core.ILogger
}

// New creates a Gateway. baseURL containing "paper" is treated as an
// informational hint only — Binance has no first-party spot paper
// environment, so paper/dry-run execution goes through broker/paper
// instead; production callers point baseURL at the live REST host.
func New(apiKey, apiSecret, baseURL string, logger core.ILogger) *Gateway {
	client := binancesdk.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return err != nil }).
		WithMaxRetries(2).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		Build()

	return &Gateway{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		policy:  failsafe.With[any](retry),
		logger:  logger.WithField("component", "broker_binance"),
	}
}

// normalizeSymbol converts the core's slash form ("BTC/USD") into Binance's
// concatenated form ("BTCUSD"); spec.md §4.A makes this the gateway's job.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func (g *Gateway) await(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.policy.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError maps a raw SDK error into the apperrors taxonomy (spec.md §7).
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"), strings.Contains(msg, "min_notional"),
		strings.Contains(msg, "lot_size"), strings.Contains(msg, "-2010"), strings.Contains(msg, "-1013"):
		return apperrors.New(apperrors.KindOrderRejected, "broker rejected order", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "5"):
		return apperrors.New(apperrors.KindTransientBroker, "broker call failed", err)
	default:
		return apperrors.New(apperrors.KindTransientBroker, "broker call failed", err)
	}
}

func (g *Gateway) SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice decimal.Decimal) (*core.Order, error) {
	var resp *binancesdk.CreateOrderResponse
	err := g.await(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.NewCreateOrderService().
			Symbol(normalizeSymbol(symbol)).
			Side(binancesdk.SideTypeBuy).
			Type(binancesdk.OrderTypeLimit).
			TimeInForce(binancesdk.TimeInForceTypeGTC).
			Quantity(qty.String()).
			Price(limitPrice.String()).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromCreateResponse(resp, symbol, core.SideBuy, core.OrderTypeLimit, qty, limitPrice), nil
}

func (g *Gateway) SubmitMarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (*core.Order, error) {
	var resp *binancesdk.CreateOrderResponse
	err := g.await(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.NewCreateOrderService().
			Symbol(normalizeSymbol(symbol)).
			Side(binancesdk.SideTypeSell).
			Type(binancesdk.OrderTypeMarket).
			Quantity(qty.String()).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromCreateResponse(resp, symbol, core.SideSell, core.OrderTypeMarket, qty, decimal.Zero), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	err := g.await(ctx, func(ctx context.Context) error {
		_, err := g.client.NewCancelOrderService().OrderID(parseOrderID(orderID)).Do(ctx)
		return err
	})
	if ae, ok := err.(*apperrors.Error); ok {
		return ae.WithOrder(orderID)
	}
	return err
}

// GetOrder implements spec.md §4.A's `getOrder(orderId) → Order | NotFound |
// Err` tri-state. Binance reports an unknown order id as error code -2013
// ("Order does not exist"); that case is reported as (nil, nil), distinct
// from a genuine transient/rejected error, so reconcile's stuck-order
// checks can tell "broker has no record of this order" apart from a lookup
// failure worth retrying on the next sweep.
func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	var resp *binancesdk.Order
	err := g.await(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.NewGetOrderService().OrderID(parseOrderID(orderID)).Do(ctx)
		return err
	})
	if err != nil {
		if isOrderNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return fromOrder(resp), nil
}

// isOrderNotFound reports whether err is Binance's -2013 "Order does not
// exist" response, surviving classifyError's wrapping into *apperrors.Error.
func isOrderNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "-2013") || strings.Contains(msg, "order does not exist")
}

func (g *Gateway) ListOpenOrders(ctx context.Context) ([]*core.Order, error) {
	var resp []*binancesdk.Order
	err := g.await(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.NewListOpenOrdersService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*core.Order, 0, len(resp))
	for _, o := range resp {
		out = append(out, fromOrder(o))
	}
	return out, nil
}

// GetPosition reports the live spot balance for symbol's base asset. A spot
// balance carries no cost basis, so AvgEntryPrice is left nil — callers must
// fall back to their own locally tracked average rather than treat a spot
// position as authoritative for price.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	var resp *binancesdk.Account
	err := g.await(ctx, func(ctx context.Context) error {
		var err error
		resp, err = g.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(strings.TrimSuffix(normalizeSymbol(symbol), "USD"), "USDT")
	for _, b := range resp.Balances {
		if strings.EqualFold(b.Asset, base) {
			qty, err := decimal.NewFromString(b.Free)
			if err != nil {
				qty = decimal.Zero
			}
			if qty.IsZero() {
				return nil, nil
			}
			return &core.Position{Symbol: symbol, Qty: qty}, nil
		}
	}
	return nil, nil
}

// StreamQuotes subscribes to the book-ticker stream for the given symbols,
// auto-reconnecting with exponential backoff on disconnect (spec.md §4.A,
// §5), the way the teacher's kline/user-data websocket managers do.
func (g *Gateway) StreamQuotes(ctx context.Context, symbols []string, onQuote core.QuoteHandler) error {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		doneC, stopC, err := g.startBookTickerStream(ctx, symbols, onQuote)
		if err != nil {
			g.logger.Warn("quote stream failed to start", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = 500 * time.Millisecond

		select {
		case <-ctx.Done():
			stopC <- struct{}{}
			return ctx.Err()
		case <-doneC:
			g.logger.Warn("quote stream disconnected, reconnecting", "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
		}
	}
}

func (g *Gateway) startBookTickerStream(ctx context.Context, symbols []string, onQuote core.QuoteHandler) (chan struct{}, chan struct{}, error) {
	symbolSet := make(map[string]string, len(symbols))
	streamSymbols := make([]string, 0, len(symbols))
	for _, s := range symbols {
		symbolSet[normalizeSymbol(s)] = s
		streamSymbols = append(streamSymbols, normalizeSymbol(s))
	}

	wsHandler := func(event *binancesdk.WsBookTickerEvent) {
		original, ok := symbolSet[normalizeSymbol(event.Symbol)]
		if !ok {
			return
		}
		bid, _ := decimal.NewFromString(event.BestBidPrice)
		ask, _ := decimal.NewFromString(event.BestAskPrice)
		onQuote(core.Quote{Symbol: original, BidPrice: bid, AskPrice: ask, Timestamp: time.Now()})
	}
	errHandler := func(err error) {
		g.logger.Warn("quote stream error", "error", err)
	}

	doneC, stopC, err := binancesdk.WsCombinedBookTickerServe(streamSymbols, wsHandler, errHandler)
	return doneC, stopC, err
}

// StreamTradeUpdates subscribes to the authenticated user-data stream,
// re-issuing a listen key and reconnecting on disconnect.
func (g *Gateway) StreamTradeUpdates(ctx context.Context, onUpdate core.TradeUpdateHandler) error {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		listenKey, err := g.client.NewStartUserStreamService().Do(ctx)
		if err != nil {
			g.logger.Warn("failed to obtain listen key", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}

		wsHandler := func(event *binancesdk.WsUserDataEvent) {
			if event.Event != binancesdk.UserDataEventTypeExecutionReport {
				return
			}
			onUpdate(fromExecutionReport(event))
		}
		errHandler := func(err error) { g.logger.Warn("trade-update stream error", "error", err) }

		doneC, stopC, err := binancesdk.WsUserDataServe(listenKey, wsHandler, errHandler)
		if err != nil {
			g.logger.Warn("trade-update stream failed to start", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
			continue
		}
		backoff = 500 * time.Millisecond

		select {
		case <-ctx.Done():
			stopC <- struct{}{}
			return ctx.Err()
		case <-doneC:
			g.logger.Warn("trade-update stream disconnected, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = minDuration(backoff*2, maxBackoff)
		}
	}
}

func fromExecutionReport(e *binancesdk.WsUserDataEvent) core.TradeUpdate {
	r := e.OrderUpdate
	qty, _ := decimal.NewFromString(r.Volume)
	filledQty, _ := decimal.NewFromString(r.AccumulativeFilledVolume)
	avgPrice, _ := decimal.NewFromString(r.LatestPrice)
	limitPrice, _ := decimal.NewFromString(r.Price)
	lastFillPrice, _ := decimal.NewFromString(r.LatestPrice)
	lastFillQty, _ := decimal.NewFromString(r.LatestVolume)

	order := core.Order{
		ID:             fmt.Sprintf("%d", r.Id),
		Symbol:         r.Symbol,
		Side:           core.OrderSide(r.Side),
		Type:           core.OrderType(r.Type),
		Status:         mapEventType(r.Status),
		Qty:            qty,
		FilledQty:      filledQty,
		FilledAvgPrice: avgPrice,
		LimitPrice:     limitPrice,
	}
	return core.TradeUpdate{
		Event:       mapEventType(r.Status),
		Order:       order,
		FillPrice:   lastFillPrice,
		FillQty:     lastFillQty,
		ExecutionID: fmt.Sprintf("%d", r.TradeId),
	}
}

func mapEventType(status string) core.EventType {
	switch status {
	case "NEW":
		return core.EventNew
	case "PARTIALLY_FILLED":
		return core.EventPartialFill
	case "FILLED":
		return core.EventFill
	case "CANCELED":
		return core.EventCanceled
	case "REJECTED":
		return core.EventRejected
	case "EXPIRED":
		return core.EventExpired
	default:
		return core.EventType(strings.ToLower(status))
	}
}

func fromCreateResponse(resp *binancesdk.CreateOrderResponse, symbol string, side core.OrderSide, typ core.OrderType, qty, limitPrice decimal.Decimal) *core.Order {
	return &core.Order{
		ID:         fmt.Sprintf("%d", resp.OrderID),
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Status:     mapEventType(string(resp.Status)),
		Qty:        qty,
		LimitPrice: limitPrice,
		CreatedAt:  time.Now(),
	}
}

func fromOrder(o *binancesdk.Order) *core.Order {
	qty, _ := decimal.NewFromString(o.OrigQuantity)
	filledQty, _ := decimal.NewFromString(o.ExecutedQuantity)
	avgPrice := decimal.Zero
	if !filledQty.IsZero() {
		cumQuote, _ := decimal.NewFromString(o.CummulativeQuoteQuantity)
		avgPrice = cumQuote.Div(filledQty)
	}
	limitPrice, _ := decimal.NewFromString(o.Price)
	return &core.Order{
		ID:             fmt.Sprintf("%d", o.OrderID),
		Symbol:         o.Symbol,
		Side:           core.OrderSide(o.Side),
		Type:           core.OrderType(o.Type),
		Status:         mapEventType(string(o.Status)),
		Qty:            qty,
		FilledQty:      filledQty,
		FilledAvgPrice: avgPrice,
		LimitPrice:     limitPrice,
		CreatedAt:      time.UnixMilli(o.Time),
	}
}

func parseOrderID(id string) int64 {
	var n int64
	fmt.Sscanf(id, "%d", &n)
	return n
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
