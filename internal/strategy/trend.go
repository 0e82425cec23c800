package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// DualSMA is a golden-cross/death-cross strategy with threshold hysteresis:
// buy on fast crossing above slow by more than a threshold, sell on the
// reverse cross or on a trend-SMA break (§4.4).
type DualSMA struct {
	hysteresisPct float64
}

// NewDualSMA builds a DualSMA strategy. hysteresisPct (e.g. 0.001 = 0.1%)
// prevents signal chatter when fast and slow SMAs are nearly equal.
func NewDualSMA(hysteresisPct float64) *DualSMA {
	return &DualSMA{hysteresisPct: hysteresisPct}
}

func (s *DualSMA) Name() string      { return "dual_sma" }
func (s *DualSMA) WarmupRequired() int { return 50 }

func (s *DualSMA) Analyze(ctx types.AnalysisContext) *types.Signal {
	fast, ok1 := smaFast(ctx)
	slow, ok2 := smaSlow(ctx)
	if !ok1 || !ok2 || slow.IsZero() {
		return nil
	}

	diff, _ := fast.Sub(slow).Div(slow).Float64()

	if !ctx.HasPosition && diff > s.hysteresisPct {
		return signal(types.Buy, "golden cross above hysteresis threshold", clamp01(0.5+diff))
	}
	if ctx.HasPosition {
		trend, hasTrend := smaTrend(ctx)
		trendBreak := hasTrend && ctx.Price.LessThan(trend)
		if diff < -s.hysteresisPct || trendBreak {
			reason := "death cross"
			if trendBreak {
				reason = "trend break"
			}
			return signal(types.Sell, reason, clamp01(0.5+(-diff)))
		}
	}
	return nil
}

// TrendRiding enters on a golden cross confirmed above the trend SMA, and
// exits only when price falls below trend SMA minus a buffer — it rides the
// trend rather than reacting to the fast/slow cross alone (§4.4).
type TrendRiding struct {
	exitBufferPct float64
}

// NewTrendRiding builds a TrendRiding strategy with the given exit buffer
// (e.g. 0.01 = 1% below the trend SMA before exiting).
func NewTrendRiding(exitBufferPct float64) *TrendRiding {
	return &TrendRiding{exitBufferPct: exitBufferPct}
}

func (s *TrendRiding) Name() string      { return "trend_riding" }
func (s *TrendRiding) WarmupRequired() int { return 200 }

func (s *TrendRiding) Analyze(ctx types.AnalysisContext) *types.Signal {
	fast, ok1 := smaFast(ctx)
	slow, ok2 := smaSlow(ctx)
	trend, ok3 := smaTrend(ctx)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}

	if !ctx.HasPosition {
		if fast.GreaterThan(slow) && ctx.Price.GreaterThan(trend) {
			return signal(types.Buy, "golden cross above trend SMA", 0.6)
		}
		return nil
	}

	buffer := trend.Mul(decimal.NewFromFloat(s.exitBufferPct))
	exitLevel := trend.Sub(buffer)
	if ctx.Price.LessThan(exitLevel) {
		return signal(types.Sell, "price fell below trend SMA buffer", 0.7)
	}
	return nil
}
