package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

type stubStrategy struct {
	name   string
	warmup int
	sig    *types.Signal
}

func (s stubStrategy) Name() string                             { return s.name }
func (s stubStrategy) WarmupRequired() int                      { return s.warmup }
func (s stubStrategy) Analyze(ctx types.AnalysisContext) *types.Signal { return s.sig }

func TestEnsembleBuysOnWeightedConsensus(t *testing.T) {
	members := []Strategy{
		stubStrategy{name: "a", sig: signal(types.Buy, "a", 0.8)},
		stubStrategy{name: "b", sig: signal(types.Buy, "b", 0.6)},
		stubStrategy{name: "c", sig: nil},
	}
	e := NewEnsemble(members, []float64{1, 1, 1}, 0.5)

	sig := e.Analyze(types.AnalysisContext{})
	require.NotNil(t, sig)
	require.Equal(t, types.Buy, sig.Side)
	require.InDelta(t, 0.7, sig.Confidence, 1e-9)
}

func TestEnsembleNoSignalOnSplitVote(t *testing.T) {
	members := []Strategy{
		stubStrategy{name: "a", sig: signal(types.Buy, "a", 0.5)},
		stubStrategy{name: "b", sig: signal(types.Sell, "b", 0.5)},
	}
	e := NewEnsemble(members, []float64{1, 1}, 0.6)

	require.Nil(t, e.Analyze(types.AnalysisContext{}))
}

func TestEnsembleSellRequiresExistingPosition(t *testing.T) {
	members := []Strategy{
		stubStrategy{name: "a", sig: signal(types.Sell, "a", 0.9)},
	}
	e := NewEnsemble(members, []float64{1}, 0.5)

	require.Nil(t, e.Analyze(types.AnalysisContext{HasPosition: false}))
	require.NotNil(t, e.Analyze(types.AnalysisContext{HasPosition: true}))
}

func TestEnsembleWarmupRequiredIsMaxOfMembers(t *testing.T) {
	members := []Strategy{
		stubStrategy{name: "a", warmup: 10},
		stubStrategy{name: "b", warmup: 200},
		stubStrategy{name: "c", warmup: 50},
	}
	e := NewEnsemble(members, []float64{1, 1, 1}, 0.5)
	require.Equal(t, 200, e.WarmupRequired())
}

func TestNewEnsemblePanicsOnMismatchedLengths(t *testing.T) {
	require.Panics(t, func() {
		NewEnsemble([]Strategy{stubStrategy{name: "a"}}, []float64{1, 2}, 0.5)
	})
}
