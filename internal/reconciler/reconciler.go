// Package reconciler implements the OrderReconciler (§4.9): consumes
// broker OrderUpdates, maintains PendingOrder records and reservations, and
// periodically reconciles tentative fills against the latest Portfolio
// snapshot.
//
// Grounded on the teacher's internal/execution/order_manager.go
// (RecordFill/UpdateOrderStatus/CleanupOldOrders); periodic TTL cleanup and
// exposure accounting are resolved from
// original_source/src/execution/order_reconciler.rs and
// pending_orders_tracker.rs, scheduled here with robfig/cron rather than
// the teacher's raw poll-loop ticker.
package reconciler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/portfolio"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// RiskStateUpdater is the narrow slice of RiskState mutation the
// Reconciler needs after a realized fill (§4.9); implemented by
// internal/riskstate.
type RiskStateUpdater interface {
	RecordTradeOutcome(won bool)
}

// Config configures TTL behavior.
type Config struct {
	TTL  time.Duration
	Tick time.Duration
}

// Reconciler owns the PendingOrder set (§3 ownership rule).
type Reconciler struct {
	cfg       Config
	logger    *zap.Logger
	portfolio *portfolio.Manager
	riskState RiskStateUpdater

	mu      sync.RWMutex
	pending map[string]*types.PendingOrder
	tokens  map[string]portfolio.ReservationToken

	cron *cron.Cron
}

// New builds a Reconciler over a PortfolioStateManager and RiskState.
func New(cfg Config, pm *portfolio.Manager, rs RiskStateUpdater, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		logger:    logger.Named("reconciler"),
		portfolio: pm,
		riskState: rs,
		pending:   make(map[string]*types.PendingOrder),
		tokens:    make(map[string]portfolio.ReservationToken),
	}
}

// Track registers a newly-submitted order's reservation so it can be
// released on a terminal update.
func (r *Reconciler) Track(clientOrderID string, pending types.PendingOrder, token portfolio.ReservationToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[clientOrderID] = &pending
	r.tokens[clientOrderID] = token
}

// HandleUpdate applies a broker OrderUpdate per §4.9's state transitions.
func (r *Reconciler) HandleUpdate(update types.OrderUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[update.ClientOrderID]
	if !ok {
		return
	}

	switch update.Status {
	case types.OrderStatusPartiallyFilled, types.OrderStatusFilled:
		entry := p.EntryPrice
		p.FilledQty = update.FilledQty
		if update.HasFillPrice {
			p.EntryPrice = update.FilledAvgPrice
		}
		if update.Status == types.OrderStatusFilled {
			p.FilledButNotSynced = true
			p.FilledAt = update.Timestamp
			if p.Side == types.Sell && r.riskState != nil {
				won := update.FilledAvgPrice.GreaterThanOrEqual(entry)
				r.riskState.RecordTradeOutcome(won)
			}
		}
	case types.OrderStatusCancelled, types.OrderStatusRejected, types.OrderStatusExpired:
		r.releaseLocked(update.ClientOrderID)
	}
}

func (r *Reconciler) releaseLocked(clientOrderID string) {
	if token, ok := r.tokens[clientOrderID]; ok {
		_ = r.portfolio.ReleaseReservation(token)
		delete(r.tokens, clientOrderID)
	}
	delete(r.pending, clientOrderID)
}

// Reconcile sweeps filled-but-not-synced pending orders: once the position
// reflects the fill it is removed; past TTL it is force-cleaned with a
// warning (§4.9).
func (r *Reconciler) Reconcile(now time.Time, positions map[string]types.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.pending {
		if !p.FilledButNotSynced {
			continue
		}
		_, held := positions[p.Symbol]
		// A buy is synced once the position exists; a sell is synced once
		// it no longer does (fully closed) — partial sells stay pending
		// until TTL, since we don't retain the pre-fill quantity to compare.
		synced := (p.Side == types.Buy && held) || (p.Side == types.Sell && !held)
		if synced {
			r.releaseLocked(id)
			continue
		}
		if now.Sub(p.FilledAt) > r.cfg.TTL {
			r.logger.Warn("pending order exceeded reconciliation TTL, forcing cleanup",
				zap.String("client_order_id", id), zap.String("symbol", p.Symbol))
			r.releaseLocked(id)
		}
	}
}

// PendingExposure sums requested-but-unfilled quantity for symbol/side,
// exposed to the RiskPipeline (§4.9).
func (r *Reconciler) PendingExposure(symbol string, side types.Side) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := decimal.Zero
	for _, p := range r.pending {
		if p.Symbol != symbol || p.Side != side {
			continue
		}
		total = total.Add(p.RequestedQty.Sub(p.FilledQty))
	}
	return total
}

// StartPeriodicReconcile schedules Reconcile on cfg.Tick using robfig/cron,
// feeding it a fresh positions snapshot from the supplied accessor on every
// firing.
func (r *Reconciler) StartPeriodicReconcile(snapshot func() map[string]types.Position) error {
	r.cron = cron.New(cron.WithSeconds())
	spec := "@every " + r.cfg.Tick.String()
	_, err := r.cron.AddFunc(spec, func() {
		r.Reconcile(time.Now(), snapshot())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the periodic reconcile schedule.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}
