package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func dec(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func TestDualSMABuysOnGoldenCrossAboveHysteresis(t *testing.T) {
	s := NewDualSMA(0.001)
	ctx := types.AnalysisContext{
		Price: decimal.NewFromInt(110),
		Features: types.FeatureSet{
			SMAFast: dec(110),
			SMASlow: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, types.Buy, sig.Side)
}

func TestDualSMANoSignalWithinHysteresisBand(t *testing.T) {
	s := NewDualSMA(0.05)
	ctx := types.AnalysisContext{
		Price: decimal.NewFromInt(101),
		Features: types.FeatureSet{
			SMAFast: dec(101),
			SMASlow: dec(100),
		},
	}
	require.Nil(t, s.Analyze(ctx))
}

func TestDualSMASellsOnDeathCross(t *testing.T) {
	s := NewDualSMA(0.001)
	ctx := types.AnalysisContext{
		HasPosition: true,
		Price:       decimal.NewFromInt(90),
		Features: types.FeatureSet{
			SMAFast: dec(90),
			SMASlow: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, types.Sell, sig.Side)
}

func TestDualSMANilWithoutWarmup(t *testing.T) {
	s := NewDualSMA(0.001)
	require.Nil(t, s.Analyze(types.AnalysisContext{}))
}

func TestTrendRidingEntersAboveTrendSMA(t *testing.T) {
	s := NewTrendRiding(0.02)
	ctx := types.AnalysisContext{
		Price: decimal.NewFromInt(120),
		Features: types.FeatureSet{
			SMAFast:  dec(110),
			SMASlow:  dec(100),
			SMATrend: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, types.Buy, sig.Side)
}

func TestTrendRidingExitsBelowBuffer(t *testing.T) {
	s := NewTrendRiding(0.02)
	ctx := types.AnalysisContext{
		HasPosition: true,
		Price:       decimal.NewFromInt(95),
		Features: types.FeatureSet{
			SMAFast:  dec(90),
			SMASlow:  dec(100),
			SMATrend: dec(100),
		},
	}
	sig := s.Analyze(ctx)
	require.NotNil(t, sig)
	require.Equal(t, types.Sell, sig.Side)
}

func TestTrendRidingHoldsWithinBuffer(t *testing.T) {
	s := NewTrendRiding(0.1)
	ctx := types.AnalysisContext{
		HasPosition: true,
		Price:       decimal.NewFromInt(95),
		Features: types.FeatureSet{
			SMAFast:  dec(90),
			SMASlow:  dec(100),
			SMATrend: dec(100),
		},
	}
	require.Nil(t, s.Analyze(ctx))
}
