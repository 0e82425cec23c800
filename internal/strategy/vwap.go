package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// VWAP trades deviation from the session-anchored VWAP, conditioned on RSI
// to avoid fading a strong trend (§4.4).
type VWAP struct {
	deviationPct  float64
	rsiOversold   float64
	rsiOverbought float64
}

// NewVWAP builds a VWAP strategy.
func NewVWAP(deviationPct, rsiOversold, rsiOverbought float64) *VWAP {
	return &VWAP{deviationPct: deviationPct, rsiOversold: rsiOversold, rsiOverbought: rsiOverbought}
}

func (s *VWAP) Name() string      { return "vwap" }
func (s *VWAP) WarmupRequired() int { return 1 }

func (s *VWAP) Analyze(ctx types.AnalysisContext) *types.Signal {
	if ctx.Features.VWAP == nil {
		return nil
	}
	vwap := *ctx.Features.VWAP
	if vwap.IsZero() {
		return nil
	}

	rsi, okRSI := rsiValue(ctx)
	deviation, _ := ctx.Price.Sub(vwap).Div(vwap).Float64()

	if !ctx.HasPosition {
		if deviation < -s.deviationPct && (!okRSI || rsi < s.rsiOversold) {
			return signal(types.Buy, "price below VWAP band with RSI confirmation", 0.55)
		}
		return nil
	}

	if deviation > s.deviationPct && (!okRSI || rsi > s.rsiOverbought) {
		return signal(types.Sell, "price above VWAP band with RSI confirmation", 0.55)
	}
	if ctx.Price.GreaterThanOrEqual(vwap.Mul(decimal.NewFromFloat(1.0 - s.deviationPct/4))) && ctx.Price.LessThanOrEqual(vwap.Mul(decimal.NewFromFloat(1.0+s.deviationPct/4))) {
		return signal(types.Sell, "mean reversion to VWAP", 0.4)
	}
	return nil
}
