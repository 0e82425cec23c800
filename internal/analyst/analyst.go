// Package analyst implements the Analyst (§4.5): one context per symbol,
// driving feature computation, strategy evaluation, trailing-stop
// management and proposal gating from the inbound MarketEvent stream.
//
// Grounded on the teacher's cmd/server/main.go wiring shape and
// internal/execution/executor.go signal-validation flow, restructured into
// an internally-consistent per-symbol pipeline (the teacher's executor has
// cross-file constructor drift — see DESIGN.md).
package analyst

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/costs"
	"github.com/atlas-desktop/trading-engine/internal/features"
	"github.com/atlas-desktop/trading-engine/internal/regime"
	"github.com/atlas-desktop/trading-engine/internal/sizing"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// StopState is the trailing-stop state machine (§4.5).
type StopState int

const (
	NoPosition StopState = iota
	Active
	Triggered
)

// TrailingStop tracks the entry/peak/stop triple for an open position.
type TrailingStop struct {
	State StopState
	Entry decimal.Decimal
	Peak  decimal.Decimal
	Stop  decimal.Decimal
}

// Enter arms the trailing stop on a fill.
func (t *TrailingStop) Enter(entry, initialStop decimal.Decimal) {
	t.State = Active
	t.Entry = entry
	t.Peak = entry
	t.Stop = initialStop
}

// Update advances peak/stop on a new price tick and reports whether the
// stop has just triggered.
func (t *TrailingStop) Update(price, atr decimal.Decimal, atrMultiplier decimal.Decimal) bool {
	if t.State != Active {
		return false
	}
	if price.GreaterThan(t.Peak) {
		t.Peak = price
	}
	t.Stop = t.Peak.Sub(atr.Mul(atrMultiplier))
	if price.LessThanOrEqual(t.Stop) {
		t.State = Triggered
		return true
	}
	return false
}

// Close resets the state machine to NoPosition (position fully closed).
func (t *TrailingStop) Close() {
	*t = TrailingStop{State: NoPosition}
}

// Sizer computes a position size from risk inputs (§4.5). Kept as a small
// interface so the Analyst can be tested without the full sizing package.
type Sizer interface {
	RiskBudget(equity decimal.Decimal) decimal.Decimal
}

// DefaultSizer implements the documented formula: risk_budget = equity ×
// risk_per_trade_pct.
type DefaultSizer struct {
	RiskPerTradePct decimal.Decimal
}

func (s DefaultSizer) RiskBudget(equity decimal.Decimal) decimal.Decimal {
	return equity.Mul(s.RiskPerTradePct)
}

// Config bundles the Analyst's tunables, one instance shared by every
// per-symbol Context.
type Config struct {
	ATRStopMultiplier    decimal.Decimal
	ATRProfitMultiplier  decimal.Decimal
	MaxPositionSizePct   decimal.Decimal
	QuantityStep         decimal.Decimal
	Cooldown             time.Duration
	MinHoldTime          time.Duration
	Sizer                Sizer
	Costs                *costs.Estimator
}

// PositionInfo is what the Analyst needs to know about a symbol's live
// position, supplied by the PortfolioStateManager via a read snapshot.
type PositionInfo struct {
	HasPosition bool
	Quantity    decimal.Decimal
	AvgPrice    decimal.Decimal
	OpenedAt    time.Time
}

// Context is the per-symbol state the Analyst owns (§4.5): feature engine,
// rolling buffers, cooldown deadline, pending-order flag and trailing stop.
type Context struct {
	Symbol       string
	Features     *features.Engine
	Strategy     strategy.Strategy
	RSIBuffer    []float64
	LastSignalAt time.Time
	CooldownTill time.Time
	PendingOrder bool
	Stop         TrailingStop

	// Regime, Selector and Kelly are optional cross-checks layered on top of
	// the fixed Strategy and ATR-only size (§4.5, §9). Nil fields fall back
	// to that default behavior.
	Regime   *regime.RegimeDetector
	Selector *RegimeSelector
	Kelly    *KellyCrossCheck

	cfg    Config
	logger *zap.Logger
}

// NewContext builds a per-symbol Analyst context.
func NewContext(symbol string, featureEngine *features.Engine, strat strategy.Strategy, cfg Config, logger *zap.Logger) *Context {
	return &Context{
		Symbol:   symbol,
		Features: featureEngine,
		Strategy: strat,
		cfg:      cfg,
		logger:   logger.Named("analyst").With(zap.String("symbol", symbol)),
	}
}

// SetPendingOrder marks/clears the duplication guard (§4.5 step 4).
func (c *Context) SetPendingOrder(pending bool) { c.PendingOrder = pending }

// OnFill transitions the trailing stop to Active with its initial stop at
// entryPrice − ATRStopMultiplier·atr; called by the caller once
// PortfolioStateManager confirms a buy.
func (c *Context) OnFill(entryPrice decimal.Decimal, atr decimal.Decimal) {
	initialStop := entryPrice.Sub(atr.Mul(c.cfg.ATRStopMultiplier))
	c.Stop.Enter(entryPrice, initialStop)
}

// OnPositionClosed records the closed trade's outcome against the Kelly
// cross-check (if wired) and resets the trailing stop to NoPosition.
func (c *Context) OnPositionClosed(exitPrice decimal.Decimal) {
	if c.Kelly != nil && c.Stop.State != NoPosition && !c.Stop.Entry.IsZero() {
		returnPct, _ := exitPrice.Sub(c.Stop.Entry).Div(c.Stop.Entry).Float64()
		c.Kelly.RecordTrade(&sizing.TradeResult{
			Symbol:    c.Symbol,
			Entry:     c.Stop.Entry,
			Exit:      exitPrice,
			ReturnPct: returnPct,
			IsWin:     returnPct > 0,
		})
	}
	c.Stop.Close()
}

// OnCandle runs the full per-candle pipeline from §4.5 and returns a
// TradeProposal if every gate passes, or nil if none is warranted.
//
// offline reports whether the market connection is currently down (step 1).
// pos is the PortfolioStateManager's current view of this symbol's position.
// equity and availableCash come from a fresh portfolio snapshot.
func (c *Context) OnCandle(ctx context.Context, candle types.Candle, offline bool, pos PositionInfo, equity, availableCash decimal.Decimal) *types.TradeProposal {
	if offline {
		return nil
	}

	fs := c.Features.Update(candle)
	c.RSIBuffer = appendBounded(c.RSIBuffer, fs.RSI, 512)

	if fs.ATR == nil || fs.ATR.IsZero() {
		return nil
	}
	atr := *fs.ATR

	now := time.UnixMilli(candle.TimestampMs)
	if c.Regime != nil {
		c.Regime.AddDataPoint(candle.Close, candle.Volume, now)
	}

	analysisCtx := types.AnalysisContext{
		Symbol:      c.Symbol,
		Price:       candle.Close,
		Features:    fs,
		HasPosition: pos.HasPosition,
		Candles:     c.Features.CandleBuffer(),
		RSIBuffer:   c.RSIBuffer,
		Timestamp:   now,
	}

	// Trailing-stop update happens regardless of whether the strategy fires;
	// a Triggered stop always wins and suppresses strategy-generated sells.
	var trailingSell bool
	if pos.HasPosition {
		trailingSell = c.Stop.Update(candle.Close, atr, c.cfg.ATRStopMultiplier)
	}

	activeStrategy := c.Strategy
	if c.Selector != nil {
		activeStrategy = c.Selector.Select()
	}
	sig := activeStrategy.Analyze(analysisCtx)

	if trailingSell {
		return c.proposeSell(candle, pos, "trailing stop triggered")
	}
	if sig == nil {
		return nil
	}
	if sig.Side == types.Sell && !pos.HasPosition {
		return nil
	}
	// Trailing-stop suppression: if a stop is armed (Active), a
	// strategy-generated sell would race the stop; defer to the stop.
	if sig.Side == types.Sell && c.Stop.State == Active {
		return nil
	}

	if now.Before(c.CooldownTill) {
		return nil
	}
	if c.PendingOrder {
		return nil
	}
	if sig.Side == types.Sell && !pos.OpenedAt.IsZero() && now.Sub(pos.OpenedAt) < c.cfg.MinHoldTime {
		return nil
	}

	if sig.Side == types.Sell {
		proposal := c.proposeSell(candle, pos, sig.Reason)
		if proposal != nil {
			c.armCooldown(now)
		}
		return proposal
	}

	qty := c.sizePosition(equity, availableCash, candle.Close, atr)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	stopDistance := atr.Mul(c.cfg.ATRStopMultiplier)
	if c.Kelly != nil {
		req := &sizing.SizingRequest{
			Symbol:         c.Symbol,
			PortfolioValue: equity,
			CurrentPrice:   candle.Close,
			StopLoss:       candle.Close.Sub(stopDistance),
		}
		atrQty, _ := qty.Float64()
		if adjusted := c.Kelly.Adjust(req, atrQty); adjusted < atrQty {
			qty = decimal.NewFromFloat(adjusted)
		}
	}
	if c.cfg.Costs != nil && !c.cfg.Costs.IsProfitable(qty, candle.Close, stopDistance, c.cfg.ATRProfitMultiplier) {
		c.logger.Debug("signal rejected: expected profit does not clear estimated costs")
		return nil
	}

	c.armCooldown(now)
	return &types.TradeProposal{
		Symbol:    c.Symbol,
		Side:      types.Buy,
		OrderType: types.OrderTypeMarket,
		Price:     candle.Close,
		Quantity:  qty,
		Reason:    sig.Reason,
		Timestamp: now,
	}
}

// OnNewsSignal handles the optional asynchronous news-sentiment path
// (§4.5): a sentiment score is only actionable when a technical
// confirmation agrees (price above/below the slow SMA) and RSI sits
// within a sane band — sentiment alone never overrides price action.
func (c *Context) OnNewsSignal(score float64, price, slowSMA, atr, equity, availableCash decimal.Decimal, rsi float64, rsiFloor, rsiCeiling, threshold float64, now time.Time, pos PositionInfo) *types.TradeProposal {
	if now.Before(c.CooldownTill) || c.PendingOrder {
		return nil
	}
	if score > threshold && !pos.HasPosition && price.GreaterThan(slowSMA) && rsi > rsiFloor && rsi < rsiCeiling {
		qty := c.sizePosition(equity, availableCash, price, atr)
		if qty.LessThanOrEqual(decimal.Zero) {
			return nil
		}
		c.armCooldown(now)
		return &types.TradeProposal{
			Symbol: c.Symbol, Side: types.Buy, OrderType: types.OrderTypeMarket,
			Price: price, Quantity: qty, Reason: "news sentiment confirmed by trend and RSI band", Timestamp: now,
		}
	}
	if score < -threshold && pos.HasPosition && price.LessThan(slowSMA) && rsi > rsiFloor && rsi < rsiCeiling {
		return c.proposeSell(types.Candle{Close: price, TimestampMs: now.UnixMilli()}, pos, "negative news sentiment confirmed by trend and RSI band")
	}
	return nil
}

func (c *Context) proposeSell(candle types.Candle, pos PositionInfo, reason string) *types.TradeProposal {
	if !pos.HasPosition || pos.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return &types.TradeProposal{
		Symbol:    c.Symbol,
		Side:      types.Sell,
		OrderType: types.OrderTypeMarket,
		Price:     candle.Close,
		Quantity:  pos.Quantity,
		Reason:    reason,
		Timestamp: time.UnixMilli(candle.TimestampMs),
	}
}

func (c *Context) armCooldown(now time.Time) {
	c.LastSignalAt = now
	c.CooldownTill = now.Add(c.cfg.Cooldown)
}

// sizePosition implements §4.5's sizing formula: qty = risk_budget /
// (k·ATR), capped by max_position_size_pct and reduced so notional+fees fit
// available cash, then rounded down to the exchange step.
func (c *Context) sizePosition(equity, availableCash, price, atr decimal.Decimal) decimal.Decimal {
	stopDistance := atr.Mul(c.cfg.ATRStopMultiplier)
	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	riskBudget := c.cfg.Sizer.RiskBudget(equity)
	qty := riskBudget.Div(stopDistance)

	maxByPosition := equity.Mul(c.cfg.MaxPositionSizePct).Div(price)
	if qty.GreaterThan(maxByPosition) {
		qty = maxByPosition
	}

	unitCost := price
	if c.cfg.Costs != nil {
		unitCost = unitCost.Add(c.cfg.Costs.Estimate(decimal.NewFromInt(1), price))
	}
	maxByCash := availableCash.Div(unitCost)
	if qty.GreaterThan(maxByCash) {
		qty = maxByCash
	}

	return roundDownToStep(qty, c.cfg.QuantityStep)
}

func roundDownToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	units := qty.Div(step).Floor()
	return units.Mul(step)
}

func appendBounded(buf []float64, v *float64, max int) []float64 {
	if v == nil {
		return buf
	}
	buf = append(buf, *v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
