package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Breakout buys on a close above the N-period high plus a threshold with
// volume confirmation; sells on a break of the N-period low (§4.4).
type Breakout struct {
	period           int
	thresholdPct     float64
	volumeMultiplier float64
}

// NewBreakout builds a Breakout strategy.
func NewBreakout(period int, thresholdPct, volumeMultiplier float64) *Breakout {
	return &Breakout{period: period, thresholdPct: thresholdPct, volumeMultiplier: volumeMultiplier}
}

func (s *Breakout) Name() string      { return "breakout" }
func (s *Breakout) WarmupRequired() int { return s.period }

func (s *Breakout) Analyze(ctx types.AnalysisContext) *types.Signal {
	if len(ctx.Candles) < s.period+1 {
		return nil
	}
	window := ctx.Candles[len(ctx.Candles)-s.period-1 : len(ctx.Candles)-1]

	high := window[0].High
	low := window[0].Low
	volSum := decimal.Zero
	for _, c := range window {
		if c.High.GreaterThan(high) {
			high = c.High
		}
		if c.Low.LessThan(low) {
			low = c.Low
		}
		volSum = volSum.Add(c.Volume)
	}
	avgVol := volSum.Div(decimal.NewFromInt(int64(len(window))))
	last := ctx.Candles[len(ctx.Candles)-1]

	if !ctx.HasPosition {
		breakoutLevel := high.Add(high.Mul(decimal.NewFromFloat(s.thresholdPct)))
		volumeOK := avgVol.IsZero() || last.Volume.GreaterThanOrEqual(avgVol.Mul(decimal.NewFromFloat(s.volumeMultiplier)))
		if ctx.Price.GreaterThan(breakoutLevel) && volumeOK {
			return signal(types.Buy, "breakout above N-period high with volume confirmation", 0.6)
		}
		return nil
	}

	if ctx.Price.LessThan(low) {
		return signal(types.Sell, "break of N-period low", 0.6)
	}
	return nil
}

// MomentumDivergence detects price-vs-RSI divergence across two windowed
// extremes: long on bullish divergence when oversold, exit on bearish
// divergence when overbought (§4.4).
type MomentumDivergence struct {
	window        int
	rsiOversold   float64
	rsiOverbought float64
}

// NewMomentumDivergence builds the strategy.
func NewMomentumDivergence(window int, rsiOversold, rsiOverbought float64) *MomentumDivergence {
	return &MomentumDivergence{window: window, rsiOversold: rsiOversold, rsiOverbought: rsiOverbought}
}

func (s *MomentumDivergence) Name() string      { return "momentum_divergence" }
func (s *MomentumDivergence) WarmupRequired() int { return s.window * 2 }

func (s *MomentumDivergence) Analyze(ctx types.AnalysisContext) *types.Signal {
	rsi, okRSI := rsiValue(ctx)
	if !okRSI || len(ctx.Candles) < s.window*2 || len(ctx.RSIBuffer) < s.window*2 {
		return nil
	}

	recent := ctx.Candles[len(ctx.Candles)-s.window:]
	prior := ctx.Candles[len(ctx.Candles)-2*s.window : len(ctx.Candles)-s.window]
	recentRSI := ctx.RSIBuffer[len(ctx.RSIBuffer)-s.window:]
	priorRSI := ctx.RSIBuffer[len(ctx.RSIBuffer)-2*s.window : len(ctx.RSIBuffer)-s.window]

	recentLow, recentLowRSI := windowMin(recent, recentRSI)
	priorLow, priorLowRSI := windowMin(prior, priorRSI)
	recentHigh, recentHighRSI := windowMax(recent, recentRSI)
	priorHigh, priorHighRSI := windowMax(prior, priorRSI)

	bullishDivergence := recentLow.LessThan(priorLow) && recentLowRSI > priorLowRSI
	bearishDivergence := recentHigh.GreaterThan(priorHigh) && recentHighRSI < priorHighRSI

	if !ctx.HasPosition && bullishDivergence && rsi < s.rsiOversold {
		return signal(types.Buy, "bullish price/RSI divergence while oversold", 0.6)
	}
	if ctx.HasPosition && bearishDivergence && rsi > s.rsiOverbought {
		return signal(types.Sell, "bearish price/RSI divergence while overbought", 0.6)
	}
	return nil
}

func windowMin(candles []types.Candle, rsi []float64) (decimal.Decimal, float64) {
	minPrice := candles[0].Low
	minRSI := rsi[0]
	for i, c := range candles {
		if c.Low.LessThan(minPrice) {
			minPrice = c.Low
			minRSI = rsi[i]
		}
	}
	return minPrice, minRSI
}

func windowMax(candles []types.Candle, rsi []float64) (decimal.Decimal, float64) {
	maxPrice := candles[0].High
	maxRSI := rsi[0]
	for i, c := range candles {
		if c.High.GreaterThan(maxPrice) {
			maxPrice = c.High
			maxRSI = rsi[i]
		}
	}
	return maxPrice, maxRSI
}

// StatisticalMomentum is ATR-normalized momentum with trend confirmation
// (§4.4): rate-of-change divided by ATR, gated by alignment with the trend SMA.
type StatisticalMomentum struct {
	period    int
	threshold float64
}

// NewStatisticalMomentum builds the strategy.
func NewStatisticalMomentum(period int, threshold float64) *StatisticalMomentum {
	return &StatisticalMomentum{period: period, threshold: threshold}
}

func (s *StatisticalMomentum) Name() string      { return "statistical_momentum" }
func (s *StatisticalMomentum) WarmupRequired() int { return s.period }

func (s *StatisticalMomentum) Analyze(ctx types.AnalysisContext) *types.Signal {
	atr, okATR := atrValue(ctx)
	trend, okTrend := smaTrend(ctx)
	if !okATR || !okTrend || len(ctx.Candles) < s.period {
		return nil
	}

	past := ctx.Candles[len(ctx.Candles)-s.period]
	roc := ctx.Price.Sub(past.Close)
	atrFloat, _ := atr.Float64()
	rocFloat, _ := roc.Float64()
	if atrFloat == 0 || math.IsNaN(atrFloat) {
		return nil
	}
	normalized := rocFloat / atrFloat

	if !ctx.HasPosition && normalized > s.threshold && ctx.Price.GreaterThan(trend) {
		return signal(types.Buy, "ATR-normalized momentum above threshold, trend-aligned", clamp01(0.5+normalized/10))
	}
	if ctx.HasPosition && normalized < -s.threshold {
		return signal(types.Sell, "ATR-normalized momentum reversed below threshold", clamp01(0.5+(-normalized)/10))
	}
	return nil
}
