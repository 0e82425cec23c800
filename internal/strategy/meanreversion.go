package strategy

import "github.com/atlas-desktop/trading-engine/pkg/types"

// MeanReversion buys when price is below the lower Bollinger band and RSI is
// oversold, sells on mean recovery (price back to the middle band) or RSI
// overbought (§4.4).
type MeanReversion struct {
	rsiOversold   float64
	rsiOverbought float64
}

// NewMeanReversion builds a MeanReversion strategy with RSI thresholds.
func NewMeanReversion(rsiOversold, rsiOverbought float64) *MeanReversion {
	return &MeanReversion{rsiOversold: rsiOversold, rsiOverbought: rsiOverbought}
}

func (s *MeanReversion) Name() string      { return "mean_reversion" }
func (s *MeanReversion) WarmupRequired() int { return 20 }

func (s *MeanReversion) Analyze(ctx types.AnalysisContext) *types.Signal {
	rsi, okRSI := rsiValue(ctx)
	if !okRSI || ctx.Features.BBLower == nil || ctx.Features.BBMiddle == nil {
		return nil
	}

	if !ctx.HasPosition {
		if ctx.Price.LessThan(*ctx.Features.BBLower) && rsi < s.rsiOversold {
			return signal(types.Buy, "price below lower band with oversold RSI", 0.6)
		}
		return nil
	}

	if ctx.Price.GreaterThanOrEqual(*ctx.Features.BBMiddle) {
		return signal(types.Sell, "mean recovery", 0.55)
	}
	if rsi > s.rsiOverbought {
		return signal(types.Sell, "RSI overbought", 0.55)
	}
	return nil
}

// ZScoreMeanReversion enters on z ≤ −2, exits on z ≥ 0 (§4.4).
type ZScoreMeanReversion struct {
	entryZ float64
	exitZ  float64
}

// NewZScoreMeanReversion builds the strategy with the documented defaults
// (entryZ=-2, exitZ=0) overridable for testing/tuning.
func NewZScoreMeanReversion(entryZ, exitZ float64) *ZScoreMeanReversion {
	return &ZScoreMeanReversion{entryZ: entryZ, exitZ: exitZ}
}

func (s *ZScoreMeanReversion) Name() string      { return "zscore_mean_reversion" }
func (s *ZScoreMeanReversion) WarmupRequired() int { return 20 }

func (s *ZScoreMeanReversion) Analyze(ctx types.AnalysisContext) *types.Signal {
	if ctx.Features.ZScore == nil {
		return nil
	}
	z := *ctx.Features.ZScore

	if !ctx.HasPosition && z <= s.entryZ {
		return signal(types.Buy, "z-score entry threshold reached", clamp01(0.5+(-z)/4))
	}
	if ctx.HasPosition && z >= s.exitZ {
		return signal(types.Sell, "z-score reverted to exit threshold", 0.55)
	}
	return nil
}
