// Package ordermonitor implements OrderMonitor and retry (§4.8): tracking
// live limit orders and replacing ones that sit past their timeout with a
// market order of the same symbol/side/quantity.
//
// Grounded on the teacher's internal/execution/order_manager.go
// (TrackOrder/CleanupOldOrders/MonitorOrders poll-loop idiom); the
// cancel-and-replace action and panic-mode fallback are resolved from
// original_source/src/execution/order_monitor.rs and order_retry_strategy.rs.
package ordermonitor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// CancelAndReplace is the action OrderMonitor emits for a timed-out limit
// order (§4.8).
type CancelAndReplace struct {
	ClientOrderID string
	Original      types.Order
	Replacement   types.Order // same symbol/side/qty, OrderType = Market
}

// Config configures timeout and retry behavior.
type Config struct {
	LimitTimeout time.Duration
	RetryEnabled bool
}

type tracked struct {
	order     types.Order
	trackedAt time.Time
}

// Monitor tracks outstanding limit orders and surfaces cancel-and-replace
// actions once they age past LimitTimeout.
type Monitor struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]tracked
}

// New builds an OrderMonitor.
func New(cfg Config, logger *zap.Logger) *Monitor {
	return &Monitor{cfg: cfg, logger: logger.Named("ordermonitor"), pending: make(map[string]tracked)}
}

// Track registers a newly-submitted limit order.
func (m *Monitor) Track(order types.Order) {
	if order.OrderType != types.OrderTypeLimit {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[order.ClientOrderID] = tracked{order: order, trackedAt: time.Now()}
}

// Untrack removes an order once it's terminal (filled, cancelled, rejected,
// or replaced).
func (m *Monitor) Untrack(clientOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, clientOrderID)
}

// Sweep returns the cancel-and-replace actions for every limit order older
// than LimitTimeout, untracking each to prevent duplicate replacement
// (§4.8). Returns nil when retry is disabled.
func (m *Monitor) Sweep(now time.Time) []CancelAndReplace {
	if !m.cfg.RetryEnabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []CancelAndReplace
	for id, t := range m.pending {
		if now.Sub(t.trackedAt) <= m.cfg.LimitTimeout {
			continue
		}
		replacement := t.order
		replacement.OrderType = types.OrderTypeMarket
		actions = append(actions, CancelAndReplace{
			ClientOrderID: id,
			Original:      t.order,
			Replacement:   replacement,
		})
		delete(m.pending, id)
		m.logger.Warn("limit order timed out, replacing with market order",
			zap.String("client_order_id", id), zap.String("symbol", t.order.Symbol))
	}
	return actions
}

// LiquidationOrder builds the order a LiquidationService should submit for
// a position: a mid-price limit when spread data is available, otherwise a
// blind market order in panic mode (§4.8, §4.10).
func LiquidationOrder(symbol string, side types.Side, qty decimal.Decimal, bid, ask decimal.Decimal, haveSpread bool) types.TradeProposal {
	if haveSpread && !bid.IsZero() && !ask.IsZero() {
		mid := bid.Add(ask).Div(decimal.NewFromInt(2))
		return types.TradeProposal{Symbol: symbol, Side: side, OrderType: types.OrderTypeLimit, Price: mid, Quantity: qty, Reason: "liquidation"}
	}
	return types.TradeProposal{Symbol: symbol, Side: side, OrderType: types.OrderTypeMarket, Quantity: qty, Reason: "liquidation (panic mode, no price)"}
}
