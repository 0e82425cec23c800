// Package portfolio implements the PortfolioStateManager (§4.1): the single
// writer of cash, positions and reservations, and the sole source of
// atomic point-in-time snapshots for the rest of the pipeline.
//
// Grounded on the teacher's internal/execution/order_manager.go weighted-
// average position accounting (updatePosition) and the read/lock discipline
// of internal/execution/risk_manager.go's exposure snapshots.
package portfolio

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// ErrInsufficientFunds is returned by Reserve when available cash cannot
// cover the requested notional.
var ErrInsufficientFunds = errors.New("portfolio: insufficient funds")

// ErrInconsistentState is returned when a mutation would violate a
// portfolio invariant (§4.1); the mutation is not applied.
var ErrInconsistentState = errors.New("portfolio: inconsistent state")

// ErrUnknownReservation identifies an unknown or already-released
// reservation token. ReleaseReservation does not return it: releasing such
// a token is a no-op that returns nil.
var ErrUnknownReservation = errors.New("portfolio: unknown reservation")

// ReservationToken opaquely identifies a hold on cash and/or symbol exposure.
type ReservationToken string

type reservation struct {
	symbol  string
	side    types.Side
	notional decimal.Decimal
}

// Snapshot is a consistent, immutable point-in-time view (§4.1).
type Snapshot struct {
	Portfolio     types.Portfolio
	AvailableCash decimal.Decimal
	ReservedCash  decimal.Decimal
	Equity        decimal.Decimal
}

// Manager is the PortfolioStateManager. Zero value is not usable; use New.
type Manager struct {
	mu              sync.RWMutex
	cash            decimal.Decimal
	positions       map[string]types.Position
	dayTradesCount  int
	reservations    map[ReservationToken]reservation
	reservedBySymbol map[string]decimal.Decimal
	halted          bool

	// closedTrades is appended on every sell fill for the performance
	// package and the Reconciler's realized-P&L feed.
	closedTrades []types.Trade
}

// New creates a Manager seeded with starting cash and no positions.
func New(startingCash decimal.Decimal) *Manager {
	return &Manager{
		cash:             startingCash,
		positions:        make(map[string]types.Position),
		reservations:     make(map[ReservationToken]reservation),
		reservedBySymbol: make(map[string]decimal.Decimal),
	}
}

// Halted reports whether new mutations are currently blocked following an
// invariant violation. The flag stays set until ClearHalt is called;
// Snapshot does not re-check consistency or clear it.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// Snapshot returns a consistent point-in-time view. prices is used only to
// value open positions for the equity figure; it does not mutate state.
func (m *Manager) Snapshot(prices map[string]decimal.Decimal) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make(map[string]types.Position, len(m.positions))
	for k, v := range m.positions {
		positions[k] = v
	}

	reserved := decimal.Zero
	for _, r := range m.reservations {
		reserved = reserved.Add(r.notional)
	}

	pf := types.Portfolio{
		Cash:           m.cash,
		Positions:      positions,
		DayTradesCount: m.dayTradesCount,
	}

	return Snapshot{
		Portfolio:     pf,
		AvailableCash: m.cash.Sub(reserved),
		ReservedCash:  reserved,
		Equity:        pf.Equity(prices),
	}
}

// ReservedExposure returns the reserved notional currently held against a
// symbol (used by the BuyingPower/PositionSize/Correlation validators).
func (m *Manager) ReservedExposure(symbol string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.reservedBySymbol[symbol]; ok {
		return v
	}
	return decimal.Zero
}

// Reserve deducts notional from available cash atomically for buys, or
// records a symbol-exposure hold for sells, returning an opaque token.
func (m *Manager) Reserve(symbol string, side types.Side, notional decimal.Decimal) (ReservationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if side == types.Buy {
		reserved := decimal.Zero
		for _, r := range m.reservations {
			reserved = reserved.Add(r.notional)
		}
		available := m.cash.Sub(reserved)
		if notional.GreaterThan(available) {
			return "", ErrInsufficientFunds
		}
	}

	token := ReservationToken(uuid.NewString())
	m.reservations[token] = reservation{symbol: symbol, side: side, notional: notional}
	m.reservedBySymbol[symbol] = m.reservedBySymbol[symbol].Add(notional)
	return token, nil
}

// ReleaseReservation returns reserved cash/exposure to the free pool.
// Idempotent: releasing an already-released or unknown token is a no-op.
func (m *Manager) ReleaseReservation(token ReservationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[token]
	if !ok {
		return nil
	}
	delete(m.reservations, token)

	remaining := m.reservedBySymbol[r.symbol].Sub(r.notional)
	if remaining.LessThanOrEqual(decimal.Zero) {
		delete(m.reservedBySymbol, r.symbol)
	} else {
		m.reservedBySymbol[r.symbol] = remaining
	}
	return nil
}

// ApplyFill mutates positions and cash under the write lock (§4.1).
// Buy: cash -= qty*price + fees; average price updated by weighted mean.
// Sell: position qty -= qty; cash += qty*price - fees; position removed at
// zero; a closed Trade with realized P&L is recorded.
func (m *Manager) ApplyFill(symbol string, side types.Side, qty, price, fees decimal.Decimal) (types.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return types.Trade{}, ErrInconsistentState
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return types.Trade{}, ErrInconsistentState
	}

	switch side {
	case types.Buy:
		cost := qty.Mul(price).Add(fees)
		newCash := m.cash.Sub(cost)
		if newCash.LessThan(decimal.Zero) {
			m.halted = true
			return types.Trade{}, ErrInconsistentState
		}

		pos, exists := m.positions[symbol]
		if !exists {
			pos = types.Position{Symbol: symbol, Quantity: qty, AveragePrice: price}
		} else {
			totalQty := pos.Quantity.Add(qty)
			weighted := pos.Quantity.Mul(pos.AveragePrice).Add(qty.Mul(price))
			pos = types.Position{Symbol: symbol, Quantity: totalQty, AveragePrice: weighted.Div(totalQty)}
		}
		m.positions[symbol] = pos
		m.cash = newCash

		return types.Trade{Symbol: symbol, Side: side, Quantity: qty, Price: price, Commission: fees, ExecutedAt: time.Now()}, nil

	case types.Sell:
		pos, exists := m.positions[symbol]
		if !exists || qty.GreaterThan(pos.Quantity) {
			m.halted = true
			return types.Trade{}, ErrInconsistentState
		}

		proceeds := qty.Mul(price).Sub(fees)
		realizedPnL := qty.Mul(price.Sub(pos.AveragePrice)).Sub(fees)

		remainingQty := pos.Quantity.Sub(qty)
		if remainingQty.LessThanOrEqual(decimal.Zero) {
			delete(m.positions, symbol)
		} else {
			m.positions[symbol] = types.Position{Symbol: symbol, Quantity: remainingQty, AveragePrice: pos.AveragePrice}
		}
		m.cash = m.cash.Add(proceeds)

		trade := types.Trade{Symbol: symbol, Side: side, Quantity: qty, Price: price, Commission: fees, PnL: realizedPnL, ExecutedAt: time.Now()}
		m.closedTrades = append(m.closedTrades, trade)
		return trade, nil

	default:
		return types.Trade{}, ErrInconsistentState
	}
}

// ClosedTrades returns a copy of the realized trade history, used by the
// performance package for Sharpe/Sortino/Calmar/Monte-Carlo reconstruction.
func (m *Manager) ClosedTrades() []types.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Trade, len(m.closedTrades))
	copy(out, m.closedTrades)
	return out
}

// IncrementDayTrades records a completed day trade for the PDT validator.
func (m *Manager) IncrementDayTrades() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayTradesCount++
}

// ResetDayTrades clears the day-trade counter at session boundary.
func (m *Manager) ResetDayTrades() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayTradesCount = 0
}

// ClearHalt resumes trading once an operator confirms consistency (§7).
func (m *Manager) ClearHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
}
