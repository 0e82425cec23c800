// Package types holds the shared domain model for the trading engine:
// candles, market events, orders, positions, signals and the small value
// types that flow between components. All monetary and quantity fields are
// decimal.Decimal; floating point never appears on this boundary.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order, position or signal.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType enumerates the order types the broker port accepts.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus mirrors the broker-reported lifecycle of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusSuspended       OrderStatus = "suspended"
)

// Timeframe is a candle interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Candle is one OHLCV bar. Symbol must already be normalized
// (§3: canonicalized once at ingress).
type Candle struct {
	Symbol      string
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	TimestampMs int64
}

// Valid checks the candle invariant from §3:
// low ≤ min(open,close) ≤ max(open,close) ≤ high, all strictly positive, volume ≥ 0.
func (c Candle) Valid() bool {
	if c.Open.LessThanOrEqual(decimal.Zero) || c.High.LessThanOrEqual(decimal.Zero) ||
		c.Low.LessThanOrEqual(decimal.Zero) || c.Close.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if c.Volume.LessThan(decimal.Zero) {
		return false
	}
	lo := decimal.Min(c.Open, c.Close)
	hi := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(lo) || lo.GreaterThan(hi) || hi.GreaterThan(c.High) {
		return false
	}
	return true
}

// Quote is a single best-bid/ask-style tick used by the gateway's Quote variant.
type Quote struct {
	Symbol      string
	Price       decimal.Decimal
	Qty         decimal.Decimal
	TimestampMs int64
}

// MarketEventKind tags the MarketEvent union.
type MarketEventKind string

const (
	MarketEventQuote             MarketEventKind = "quote"
	MarketEventCandle            MarketEventKind = "candle"
	MarketEventSymbolSubscribed  MarketEventKind = "symbol_subscribed"
)

// MarketEvent is the tagged union described in §3. Kind selects which of
// Quote or Candle carries the payload; Symbol names the event's symbol and
// is the only payload of a SymbolSubscribed event.
type MarketEvent struct {
	Kind   MarketEventKind
	Quote  Quote
	Candle Candle
	Symbol string
}

// Position is a long-only open position (§3).
type Position struct {
	Symbol       string
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
}

// Portfolio is the PortfolioStateManager's owned state (§3).
type Portfolio struct {
	Cash           decimal.Decimal
	Positions      map[string]Position
	DayTradesCount int
}

// Equity computes cash + Σ qty·price given a price map; symbols without a
// price are valued at their average (entry) price as a conservative fallback.
func (p Portfolio) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	eq := p.Cash
	for sym, pos := range p.Positions {
		px, ok := prices[sym]
		if !ok {
			px = pos.AveragePrice
		}
		eq = eq.Add(pos.Quantity.Mul(px))
	}
	return eq
}

// TradeProposal is emitted by the Analyst and consumed by the RiskPipeline (§3).
type TradeProposal struct {
	Symbol    string
	Side      Side
	OrderType OrderType
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Reason    string
	Timestamp time.Time
}

// Order is an accepted TradeProposal plus its broker-facing identity (§3).
type Order struct {
	TradeProposal
	ClientOrderID string
}

// OrderUpdate is a broker-reported event (§3).
type OrderUpdate struct {
	ClientOrderID  string
	Symbol         string
	Side           Side
	Status         OrderStatus
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	HasFillPrice   bool
	Timestamp      time.Time
}

// RiskState is persisted across restarts (§3).
type RiskState struct {
	SessionStartEquity  decimal.Decimal
	DailyStartEquity    decimal.Decimal
	EquityHighWaterMark decimal.Decimal
	ConsecutiveLosses   int
	ReferenceDate       time.Time
	DailyDrawdownReset  bool
}

// PendingOrder is reconciler-owned bookkeeping for in-flight fills (§3).
type PendingOrder struct {
	ClientOrderID       string
	Symbol              string
	Side                Side
	RequestedQty        decimal.Decimal
	FilledQty           decimal.Decimal
	EntryPrice          decimal.Decimal
	FilledButNotSynced  bool
	FilledAt            time.Time
}

// FeatureSet is the optional-valued indicator record from the FeatureEngine (§3).
// A nil pointer field means "not yet available" (warmup incomplete).
type FeatureSet struct {
	RSI        *float64
	MACDLine   *float64
	MACDSignal *float64
	MACDHist   *float64
	SMAFast    *decimal.Decimal
	SMASlow    *decimal.Decimal
	SMATrend   *decimal.Decimal
	BBUpper    *decimal.Decimal
	BBMiddle   *decimal.Decimal
	BBLower    *decimal.Decimal
	ATR        *decimal.Decimal
	ADX        *float64
	ZScore     *float64
	VWAP       *decimal.Decimal
}

// AnalysisContext is what a Strategy receives (§3). Strategies are pure and
// deterministic over this value.
type AnalysisContext struct {
	Symbol       string
	Price        decimal.Decimal
	Features     FeatureSet
	HasPosition  bool
	Candles      []Candle
	RSIBuffer    []float64
	Timestamp    time.Time
}

// Signal is what a Strategy may emit (§3). Confidence is advisory to
// ensemble weighting, never to sizing.
type Signal struct {
	Side       Side
	Reason     string
	Confidence float64
}

// Trade is a closed (fully reconciled) economic event, used by the
// performance package to reconstruct Sharpe/Sortino/Calmar.
type Trade struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	PnL        decimal.Decimal
	ExecutedAt time.Time
}
