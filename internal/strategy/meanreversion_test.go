package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func rsiPtr(v float64) *float64 { return &v }

func TestMeanReversionBuysBelowLowerBandWithOversoldRSI(t *testing.T) {
	s := NewMeanReversion(30, 70)
	ctx := types.AnalysisContext{
		Price: decimal.NewFromInt(90),
		Features: types.FeatureSet{
			RSI:      rsiPtr(25),
			BBLower:  dec(95),
			BBMiddle: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, types.Buy, sig.Side)
}

func TestMeanReversionSellsOnMeanRecovery(t *testing.T) {
	s := NewMeanReversion(30, 70)
	ctx := types.AnalysisContext{
		HasPosition: true,
		Price:       decimal.NewFromInt(101),
		Features: types.FeatureSet{
			RSI:      rsiPtr(50),
			BBLower:  dec(95),
			BBMiddle: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, types.Sell, sig.Side)
	require.Equal(t, "mean recovery", sig.Reason)
}

func TestMeanReversionSellsOnRSIOverbought(t *testing.T) {
	s := NewMeanReversion(30, 70)
	ctx := types.AnalysisContext{
		HasPosition: true,
		Price:       decimal.NewFromInt(98),
		Features: types.FeatureSet{
			RSI:      rsiPtr(80),
			BBLower:  dec(95),
			BBMiddle: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, "RSI overbought", sig.Reason)
}

func TestZScoreMeanReversionEntersAtThreshold(t *testing.T) {
	s := NewZScoreMeanReversion(-2, 0)
	z := -2.5
	sig := s.Analyze(types.AnalysisContext{Features: types.FeatureSet{ZScore: &z}})
	require.NotNil(t, sig)
	require.Equal(t, types.Buy, sig.Side)
}

func TestZScoreMeanReversionExitsAtThreshold(t *testing.T) {
	s := NewZScoreMeanReversion(-2, 0)
	z := 0.5
	sig := s.Analyze(types.AnalysisContext{HasPosition: true, Features: types.FeatureSet{ZScore: &z}})
	require.NotNil(t, sig)
	require.Equal(t, types.Sell, sig.Side)
}

func TestZScoreMeanReversionNilWithoutZScore(t *testing.T) {
	s := NewZScoreMeanReversion(-2, 0)
	require.Nil(t, s.Analyze(types.AnalysisContext{}))
}
