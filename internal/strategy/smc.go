package strategy

import "github.com/atlas-desktop/trading-engine/pkg/types"

// SMC ("Smart Money Concepts") detects institutional-footprint patterns:
// fair value gaps (3-candle imbalance) and market structure shifts,
// confirming bias via the trend SMA (§4.4). Order blocks are not detected;
// obLookback is stored but not read.
//
// Grounded on original_source/src/application/strategies/smc.rs.
type SMC struct {
	obLookback    int
	minFVGSizePct float64
}

// NewSMC builds an SMC strategy.
func NewSMC(obLookback int, minFVGSizePct float64) *SMC {
	return &SMC{obLookback: obLookback, minFVGSizePct: minFVGSizePct}
}

func (s *SMC) Name() string      { return "smc" }
func (s *SMC) WarmupRequired() int { return 200 }

func (s *SMC) Analyze(ctx types.AnalysisContext) *types.Signal {
	trend, okTrend := smaTrend(ctx)
	if !okTrend {
		return nil
	}

	fvgSide, fvgOK := s.detectFVG(ctx.Candles)
	mssSide, mssOK := s.detectMSS(ctx.Candles)

	if !ctx.HasPosition {
		bullishBias := ctx.Price.GreaterThan(trend)
		if bullishBias && fvgOK && fvgSide == types.Buy && mssOK && mssSide == types.Buy {
			return signal(types.Buy, "bullish FVG confirmed by market structure shift, trend-aligned", 0.65)
		}
		return nil
	}

	bearishBias := ctx.Price.LessThan(trend)
	if bearishBias && fvgOK && fvgSide == types.Sell && mssOK && mssSide == types.Sell {
		return signal(types.Sell, "bearish FVG confirmed by market structure shift", 0.65)
	}
	return nil
}

// detectFVG finds a 3-candle imbalance: a bullish FVG exists when the high
// of candle N-2 is below the low of candle N; the mirror case is bearish.
func (s *SMC) detectFVG(candles []types.Candle) (types.Side, bool) {
	if len(candles) < 3 {
		return "", false
	}
	c1 := candles[len(candles)-3]
	c3 := candles[len(candles)-1]

	if c3.Low.GreaterThan(c1.High) {
		gapPct, _ := c3.Low.Sub(c1.High).Div(c1.High).Float64()
		if gapPct > s.minFVGSizePct {
			return types.Buy, true
		}
	}
	if c1.Low.GreaterThan(c3.High) {
		gapPct, _ := c1.Low.Sub(c3.High).Div(c3.High).Float64()
		if gapPct > s.minFVGSizePct {
			return types.Sell, true
		}
	}
	return "", false
}

// detectMSS confirms a close beyond the high/low of the 9 candles before the
// latest one.
func (s *SMC) detectMSS(candles []types.Candle) (types.Side, bool) {
	if len(candles) < 10 {
		return "", false
	}
	window := candles[len(candles)-10 : len(candles)-1]
	maxHigh := window[0].High
	minLow := window[0].Low
	for _, c := range window {
		if c.High.GreaterThan(maxHigh) {
			maxHigh = c.High
		}
		if c.Low.LessThan(minLow) {
			minLow = c.Low
		}
	}

	currClose := candles[len(candles)-1].Close
	if currClose.GreaterThan(maxHigh) {
		return types.Buy, true
	}
	if currClose.LessThan(minLow) {
		return types.Sell, true
	}
	return "", false
}
