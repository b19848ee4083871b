// Package engine implements the Live Event Loop: two concurrent stream
// consumers — quote handler and trade-update handler — cooperating through
// the Cycle Store (spec.md §4.D). Orchestration is grounded in the
// teacher's bootstrap.App.Run errgroup pattern
// (market_maker/internal/bootstrap/app.go), generalized from a fixed
// Runner list to the engine's two long-lived stream subscriptions.
package engine

import (
	"context"
	"sync"
	"time"

	"dcaengine/internal/core"
	"dcaengine/internal/strategy"
	"dcaengine/internal/telemetry"
	"dcaengine/pkg/apperrors"
	"dcaengine/pkg/concurrency"

	"golang.org/x/sync/errgroup"
)

// Engine wires a BrokerGateway and CycleStore into the quote and
// trade-update handlers described in spec.md §4.D.
type Engine struct {
	broker core.BrokerGateway
	store  core.CycleStore
	logger core.ILogger

	orderCooldown time.Duration

	throttleMu sync.Mutex
	throttle   map[string]time.Time

	symbols []string
	pool    *concurrency.WorkerPool
}

// New creates an Engine. orderCooldown is the per-symbol throttle window
// (spec.md §4.D, default 5s); symbols is the list the quote stream
// subscribes to. Each quote is dispatched onto a shared worker pool
// (pkg/concurrency) so a slow Strategy Core/broker round-trip for one
// symbol never delays another symbol's tick (spec.md §4.D, §5).
func New(broker core.BrokerGateway, store core.CycleStore, logger core.ILogger, symbols []string, orderCooldown time.Duration) *Engine {
	if orderCooldown <= 0 {
		orderCooldown = 5 * time.Second
	}
	return &Engine{
		broker:        broker,
		store:         store,
		logger:        logger.WithField("component", "engine"),
		orderCooldown: orderCooldown,
		throttle:      make(map[string]time.Time),
		symbols:       symbols,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "engine_quotes",
			MaxWorkers:  10,
			NonBlocking: true,
		}, logger),
	}
}

// Run subscribes to both streams and blocks until ctx is canceled or either
// stream returns a non-context error.
func (e *Engine) Run(ctx context.Context) error {
	defer e.pool.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.broker.StreamQuotes(ctx, e.symbols, e.dispatchQuote)
	})
	g.Go(func() error {
		return e.broker.StreamTradeUpdates(ctx, e.handleTradeUpdate)
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			e.logger.Info("engine stopped")
			return nil
		}
		e.logger.Error("engine stopped with error", "error", err)
		return err
	}
	return nil
}

// dispatchQuote hands a quote to the worker pool so strategy evaluation and
// order placement for one symbol runs off the stream-reader goroutine and
// never delays the next symbol's tick.
func (e *Engine) dispatchQuote(q core.Quote) {
	if err := e.pool.Submit(func() { e.handleQuote(q) }); err != nil {
		e.logger.Warn("quote dropped, worker pool saturated", "symbol", q.Symbol, "error", err)
	}
}

func (e *Engine) throttled(symbol string) bool {
	e.throttleMu.Lock()
	defer e.throttleMu.Unlock()
	last, ok := e.throttle[symbol]
	if !ok {
		return false
	}
	return time.Since(last) < e.orderCooldown
}

func (e *Engine) recordThrottle(symbol string) {
	e.throttleMu.Lock()
	defer e.throttleMu.Unlock()
	e.throttle[symbol] = time.Now()
}

// handleQuote implements the quote-handler side of spec.md §4.D.
func (e *Engine) handleQuote(q core.Quote) {
	ctx := context.Background()
	log := e.logger.WithField("symbol", q.Symbol)

	if e.throttled(q.Symbol) {
		return
	}

	asset, err := e.store.GetAsset(ctx, q.Symbol)
	if err != nil {
		log.Error("failed to load asset", "error", err)
		return
	}
	if asset == nil || !asset.Enabled {
		return
	}

	cycle, err := e.store.GetLatestCycle(ctx, asset.ID)
	if err != nil {
		log.Error("failed to load latest cycle", "error", err)
		return
	}
	if cycle == nil {
		return
	}

	var livePosition *core.Position
	if pos, err := e.broker.GetPosition(ctx, q.Symbol); err != nil {
		log.Warn("failed to fetch live position, proceeding without it", "error", err)
	} else {
		livePosition = pos
	}

	actions := []*core.Action{
		strategy.DecideBaseOrder(q, asset, cycle, livePosition),
		strategy.DecideSafetyOrder(q, asset, cycle),
		strategy.DecideTakeProfit(q, asset, cycle, livePosition),
	}

	for _, action := range actions {
		if action == nil {
			continue
		}
		e.executeAction(ctx, log, q.Symbol, asset, cycle, action)
	}
}

// executeAction applies a single Action: submit the order intent (if any),
// then the cycle/TTP update intents, recording the per-symbol throttle
// regardless of outcome (spec.md §4.D point 4, §9).
func (e *Engine) executeAction(ctx context.Context, log core.ILogger, symbol string, asset *core.AssetConfig, cycle *core.Cycle, action *core.Action) {
	defer e.recordThrottle(symbol)

	if action.Warn != "" {
		log.Warn(action.Warn, "cycle_id", cycle.ID, "asset_id", asset.ID)
	}

	var placedOrder *core.Order
	if action.Order != nil {
		order, err := e.submitOrder(ctx, symbol, action.Order)
		if err != nil {
			log.Warn("order submission failed", "error", err, "cycle_id", cycle.ID,
				"kind", apperrors.KindOf(err))
			telemetry.OrdersRejected.WithLabelValues(symbol).Inc()
			return
		}
		telemetry.OrdersSubmitted.WithLabelValues(symbol, string(action.Order.Side)).Inc()
		placedOrder = order
	}

	if action.Cycle != nil {
		fields := toCycleUpdateFields(action.Cycle)
		if placedOrder != nil {
			orderID := placedOrder.ID
			now := placedOrder.CreatedAt
			fields.LatestOrderID = &orderID
			fields.LatestOrderCreatedAt = &core.OptionalTime{Set: true, Value: now}
		}
		if err := e.store.UpdateCycle(ctx, cycle.ID, fields); err != nil {
			log.Error("failed to apply cycle update", "error", err, "cycle_id", cycle.ID)
		}
	}

	if action.TTP != nil {
		fields := core.CycleUpdateFields{
			Status:               action.TTP.Status,
			HighestTrailingPrice: action.TTP.HighestTrailingPrice,
		}
		if err := e.store.UpdateCycle(ctx, cycle.ID, fields); err != nil {
			log.Error("failed to apply TTP update", "error", err, "cycle_id", cycle.ID)
		}
	}
}

func (e *Engine) submitOrder(ctx context.Context, symbol string, intent *core.OrderIntent) (*core.Order, error) {
	switch intent.Side {
	case core.SideBuy:
		return e.broker.SubmitLimitBuy(ctx, symbol, intent.Qty, intent.LimitPrice)
	case core.SideSell:
		return e.broker.SubmitMarketSell(ctx, symbol, intent.Qty)
	default:
		return nil, apperrors.New(apperrors.KindProtocolInvariantViolation, "unknown order side", nil)
	}
}

func toCycleUpdateFields(intent *core.CycleUpdateIntent) core.CycleUpdateFields {
	return core.CycleUpdateFields{
		Status:               intent.Status,
		Quantity:             intent.Quantity,
		AveragePurchasePrice: intent.AveragePurchasePrice,
		SafetyOrders:         intent.SafetyOrders,
		LastOrderFillPrice:   intent.LastOrderFillPrice,
	}
}
