package strategy

import (
	"fmt"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Predictor scores a FeatureSet in [0,1], where 1 is maximally bullish and 0
// maximally bearish. Implementations may wrap an external model; a Predictor
// that cannot score returns ok=false rather than a fabricated value.
//
// Grounded on original_source/src/application/strategies/ml_strategy.rs and
// its MLPredictor dependency.
type Predictor interface {
	Predict(features types.FeatureSet) (score float64, ok bool)
}

// NeutralPredictor always reports the fixed neutral score (0.5), resolving
// the open question of what to do absent a trained model: never manufacture
// a directional opinion the engine hasn't earned.
type NeutralPredictor struct{}

func (NeutralPredictor) Predict(types.FeatureSet) (float64, bool) { return 0.5, true }

// ML wraps a Predictor: buy when score exceeds threshold, sell when it falls
// below 1-threshold, otherwise no signal (§4.4, §9).
type ML struct {
	predictor Predictor
	threshold float64
}

// NewML builds an ML strategy around predictor with the given decision
// threshold (e.g. 0.6).
func NewML(predictor Predictor, threshold float64) *ML {
	return &ML{predictor: predictor, threshold: threshold}
}

func (s *ML) Name() string      { return "ml" }
func (s *ML) WarmupRequired() int { return 50 }

func (s *ML) Analyze(ctx types.AnalysisContext) *types.Signal {
	score, ok := s.predictor.Predict(ctx.Features)
	if !ok {
		return nil
	}

	switch {
	case score > s.threshold && !ctx.HasPosition:
		return signal(types.Buy, fmt.Sprintf("ML score %.2f above threshold %.2f", score, s.threshold), clamp01(score))
	case score < (1.0-s.threshold) && ctx.HasPosition:
		return signal(types.Sell, fmt.Sprintf("ML score %.2f below threshold %.2f", score, 1.0-s.threshold), clamp01(1.0-score))
	default:
		return nil
	}
}
