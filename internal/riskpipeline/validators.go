package riskpipeline

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// CircuitBreaker (priority 1) halts all trading on daily loss, drawdown, or
// consecutive-loss breach. Grounded on the teacher's RiskManager daily-loss
// and kill-switch checks.
type CircuitBreaker struct {
	MaxDailyLossPct      decimal.Decimal
	MaxDrawdownPct       decimal.Decimal
	ConsecutiveLossLimit int
	EnabledFlag          bool
}

func (CircuitBreaker) Name() string     { return "circuit_breaker" }
func (CircuitBreaker) Priority() int    { return 1 }
func (c CircuitBreaker) Enabled() bool  { return c.EnabledFlag }

func (c CircuitBreaker) Validate(ctx ValidationContext) Decision {
	equity := ctx.Portfolio.Equity(ctx.Prices)
	rs := ctx.RiskState

	if !rs.SessionStartEquity.IsZero() {
		loss := equity.Sub(rs.SessionStartEquity).Div(rs.SessionStartEquity)
		if loss.LessThan(c.MaxDailyLossPct.Neg()) {
			return Reject("daily loss limit breached")
		}
	}
	if !rs.EquityHighWaterMark.IsZero() {
		dd := equity.Sub(rs.EquityHighWaterMark).Div(rs.EquityHighWaterMark)
		if dd.LessThan(c.MaxDrawdownPct.Neg()) {
			return Reject("max drawdown breached")
		}
	}
	if rs.ConsecutiveLosses >= c.ConsecutiveLossLimit {
		return Reject("consecutive loss limit reached")
	}
	return Approve()
}

// BuyingPower (priority ~10) rejects buys whose notional exceeds available
// cash. Sells are always approved — closing a position never needs cash.
type BuyingPower struct{ EnabledFlag bool }

func (BuyingPower) Name() string    { return "buying_power" }
func (BuyingPower) Priority() int   { return 10 }
func (b BuyingPower) Enabled() bool { return b.EnabledFlag }

func (b BuyingPower) Validate(ctx ValidationContext) Decision {
	if ctx.Proposal.Side != types.Buy {
		return Approve()
	}
	notional := ctx.Proposal.Quantity.Mul(ctx.Proposal.Price)
	if notional.GreaterThan(ctx.AvailableCash) {
		return Reject("insufficient buying power")
	}
	return Approve()
}

// PriceAnomaly (priority ~10) rejects proposals whose price deviates
// abnormally from the recent SMA. Fail-safe: approves when there isn't
// enough history to compute the SMA.
type PriceAnomaly struct {
	Window           int
	MaxDeviationPct  decimal.Decimal
	EnabledFlag      bool
}

func (PriceAnomaly) Name() string    { return "price_anomaly" }
func (PriceAnomaly) Priority() int   { return 11 }
func (p PriceAnomaly) Enabled() bool { return p.EnabledFlag }

func (p PriceAnomaly) Validate(ctx ValidationContext) Decision {
	sma, ok := smaOf(ctx.RecentCandles, p.Window)
	if !ok || sma.IsZero() {
		return Approve()
	}
	deviation := ctx.Proposal.Price.Sub(sma).Div(sma).Abs()
	if deviation.GreaterThan(p.MaxDeviationPct) {
		return Reject("price deviates abnormally from recent average")
	}
	return Approve()
}

// PositionSize (priority ~10) rejects a buy whose resulting position would
// exceed the adjusted max-position-size percentage of equity.
type PositionSize struct {
	MaxPositionSizePct decimal.Decimal
	EnabledFlag        bool
}

func (PositionSize) Name() string    { return "position_size" }
func (PositionSize) Priority() int   { return 12 }
func (p PositionSize) Enabled() bool { return p.EnabledFlag }

func (p PositionSize) Validate(ctx ValidationContext) Decision {
	if ctx.Proposal.Side != types.Buy {
		return Approve()
	}
	equity := ctx.Portfolio.Equity(ctx.Prices)
	existingQty := positionQty(ctx.Portfolio, ctx.Proposal.Symbol)
	prospectiveNotional := existingQty.Add(ctx.Proposal.Quantity).Mul(ctx.Proposal.Price)

	adjustedPct := p.MaxPositionSizePct
	if ctx.ExtremeFear {
		adjustedPct = adjustedPct.Div(decimal.NewFromInt(2))
	}
	if !ctx.VolatilityMultiplier.IsZero() {
		adjustedPct = adjustedPct.Mul(ctx.VolatilityMultiplier)
	}

	if prospectiveNotional.GreaterThan(equity.Mul(adjustedPct)) {
		return Reject("position size exceeds adjusted maximum")
	}
	return Approve()
}

// PDT (priority ~20) enforces the pattern-day-trader rule for sub-$25k
// equities accounts: block buys and closing sells once the day-trade count
// reaches the limit.
type PDT struct {
	EquityThreshold decimal.Decimal
	DayTradeLimit   int
	EnabledFlag     bool
}

func (PDT) Name() string    { return "pdt" }
func (PDT) Priority() int   { return 20 }
func (p PDT) Enabled() bool { return p.EnabledFlag }

func (p PDT) Validate(ctx ValidationContext) Decision {
	equity := ctx.Portfolio.Equity(ctx.Prices)
	if equity.GreaterThanOrEqual(p.EquityThreshold) {
		return Approve()
	}
	if ctx.Portfolio.DayTradesCount < p.DayTradeLimit {
		return Approve()
	}
	if ctx.Proposal.Side == types.Buy {
		return Reject("pattern day trader: day trade limit reached, buys blocked")
	}
	if _, holds := ctx.Portfolio.Positions[ctx.Proposal.Symbol]; holds {
		return Reject("pattern day trader: closing sell would complete a day trade")
	}
	return Approve()
}

// SectorExposure (priority ~30) rejects a buy that would push total sector
// exposure past its configured cap. Symbols with an unknown sector are
// always approved.
type SectorExposure struct {
	MaxSectorExposurePct decimal.Decimal
	EnabledFlag          bool
}

func (SectorExposure) Name() string    { return "sector_exposure" }
func (SectorExposure) Priority() int   { return 30 }
func (s SectorExposure) Enabled() bool { return s.EnabledFlag }

func (s SectorExposure) Validate(ctx ValidationContext) Decision {
	if ctx.Proposal.Side != types.Buy {
		return Approve()
	}
	sector, ok := ctx.SectorOf[ctx.Proposal.Symbol]
	if !ok {
		return Approve()
	}
	equity := ctx.Portfolio.Equity(ctx.Prices)
	existing := ctx.SectorExposureOf[sector]
	prospective := existing.Add(ctx.Proposal.Quantity.Mul(ctx.Proposal.Price))
	if prospective.GreaterThan(equity.Mul(s.MaxSectorExposurePct)) {
		return Reject("sector exposure limit exceeded")
	}
	return Approve()
}

// Correlation (priority ~35) rejects a buy whose symbol is highly
// correlated with an already-held symbol. Missing correlation data is
// approved (fail-safe).
type Correlation struct {
	MaxCorrelation decimal.Decimal
	EnabledFlag    bool
}

func (Correlation) Name() string    { return "correlation" }
func (Correlation) Priority() int   { return 35 }
func (c Correlation) Enabled() bool { return c.EnabledFlag }

func (c Correlation) Validate(ctx ValidationContext) Decision {
	if ctx.Proposal.Side != types.Buy {
		return Approve()
	}
	for held := range ctx.Portfolio.Positions {
		corr, ok := ctx.Correlations[held]
		if !ok {
			continue
		}
		if decimal.NewFromFloat(corr).GreaterThan(c.MaxCorrelation) {
			return Reject("correlation with held position exceeds maximum")
		}
	}
	return Approve()
}

// Sentiment (priority ~40) optionally blocks buys during extreme fear or
// below a minimum sentiment score.
type Sentiment struct {
	BlockOnExtremeFear bool
	MinScoreForLongs   *float64
	EnabledFlag        bool
}

func (Sentiment) Name() string    { return "sentiment" }
func (Sentiment) Priority() int   { return 40 }
func (s Sentiment) Enabled() bool { return s.EnabledFlag }

func (s Sentiment) Validate(ctx ValidationContext) Decision {
	if ctx.Proposal.Side != types.Buy {
		return Approve()
	}
	if s.BlockOnExtremeFear && ctx.ExtremeFear {
		return Reject("extreme fear sentiment blocks new longs")
	}
	if s.MinScoreForLongs != nil && ctx.SentimentScore != nil && *ctx.SentimentScore < *s.MinScoreForLongs {
		return Reject("sentiment score below minimum for longs")
	}
	return Approve()
}
