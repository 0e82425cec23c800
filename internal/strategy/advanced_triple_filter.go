package strategy

import "github.com/atlas-desktop/trading-engine/pkg/types"

// AdvancedTripleFilter layers a DualSMA cross with ADX (trend strength),
// RSI (not overextended) and MACD histogram (momentum direction) filters,
// requiring the cross to persist for confirmBars before acting (§4.4).
type AdvancedTripleFilter struct {
	hysteresisPct float64
	adxThreshold  float64
	rsiCeiling    float64
	rsiFloor      float64
	confirmBars   int

	confirming types.Side
	streak     int
}

// NewAdvancedTripleFilter builds the strategy with its filter thresholds.
func NewAdvancedTripleFilter(hysteresisPct, adxThreshold, rsiCeiling, rsiFloor float64, confirmBars int) *AdvancedTripleFilter {
	return &AdvancedTripleFilter{
		hysteresisPct: hysteresisPct,
		adxThreshold:  adxThreshold,
		rsiCeiling:    rsiCeiling,
		rsiFloor:      rsiFloor,
		confirmBars:   confirmBars,
	}
}

func (s *AdvancedTripleFilter) Name() string      { return "advanced_triple_filter" }
func (s *AdvancedTripleFilter) WarmupRequired() int { return 50 }

func (s *AdvancedTripleFilter) Analyze(ctx types.AnalysisContext) *types.Signal {
	fast, ok1 := smaFast(ctx)
	slow, ok2 := smaSlow(ctx)
	adx, ok3 := adxValue(ctx)
	rsi, ok4 := rsiValue(ctx)
	_, _, hist, ok5 := macdValue(ctx)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || slow.IsZero() {
		s.streak = 0
		return nil
	}

	diff, _ := fast.Sub(slow).Div(slow).Float64()
	strongTrend := adx > s.adxThreshold

	var candidate types.Side
	switch {
	case diff > s.hysteresisPct && strongTrend && rsi < s.rsiCeiling && hist > 0:
		candidate = types.Buy
	case diff < -s.hysteresisPct && strongTrend && rsi > s.rsiFloor && hist < 0:
		candidate = types.Sell
	default:
		s.streak = 0
		return nil
	}

	if candidate == s.confirming {
		s.streak++
	} else {
		s.confirming = candidate
		s.streak = 1
	}

	if s.streak < s.confirmBars {
		return nil
	}
	if candidate == types.Buy && ctx.HasPosition {
		return nil
	}
	if candidate == types.Sell && !ctx.HasPosition {
		return nil
	}

	s.streak = 0
	return signal(candidate, "ADX/RSI/MACD-filtered cross confirmed over window", clamp01(0.5+adx/100))
}
