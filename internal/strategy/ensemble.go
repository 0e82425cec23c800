package strategy

import "github.com/atlas-desktop/trading-engine/pkg/types"

// Ensemble combines a configurable subset of strategies by weighted vote,
// acting only when the winning side clears consensusThreshold of the total
// weight; a tied or split vote yields no signal (§4.4).
type Ensemble struct {
	members            []Strategy
	weights            []float64
	consensusThreshold float64
}

// NewEnsemble builds an Ensemble over members, one weight per member.
// Panics if the slice lengths differ, since this is a construction-time
// wiring error rather than a runtime condition.
func NewEnsemble(members []Strategy, weights []float64, consensusThreshold float64) *Ensemble {
	if len(members) != len(weights) {
		panic("strategy: ensemble members and weights must have equal length")
	}
	return &Ensemble{members: members, weights: weights, consensusThreshold: consensusThreshold}
}

func (s *Ensemble) Name() string { return "ensemble" }

func (s *Ensemble) WarmupRequired() int {
	max := 0
	for _, m := range s.members {
		if w := m.WarmupRequired(); w > max {
			max = w
		}
	}
	return max
}

func (s *Ensemble) Analyze(ctx types.AnalysisContext) *types.Signal {
	var buyWeight, sellWeight, totalWeight float64
	var buyConfidence, sellConfidence float64

	for i, m := range s.members {
		w := s.weights[i]
		totalWeight += w
		sig := m.Analyze(ctx)
		if sig == nil {
			continue
		}
		switch sig.Side {
		case types.Buy:
			buyWeight += w
			buyConfidence += w * sig.Confidence
		case types.Sell:
			sellWeight += w
			sellConfidence += w * sig.Confidence
		}
	}
	if totalWeight == 0 {
		return nil
	}

	buyShare := buyWeight / totalWeight
	sellShare := sellWeight / totalWeight

	if buyShare >= s.consensusThreshold && buyShare > sellShare && !ctx.HasPosition {
		conf := clamp01(buyConfidence / buyWeight)
		return signal(types.Buy, "ensemble buy consensus reached", conf)
	}
	if sellShare >= s.consensusThreshold && sellShare > buyShare && ctx.HasPosition {
		conf := clamp01(sellConfidence / sellWeight)
		return signal(types.Sell, "ensemble sell consensus reached", conf)
	}
	return nil
}
