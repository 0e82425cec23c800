package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCalculateSizeZeroBeforeAnyTradeHistory(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())

	result := ps.CalculateSize(&SizingRequest{
		Symbol:         "BTC",
		PortfolioValue: decimal.NewFromInt(100000),
		CurrentPrice:   decimal.NewFromInt(100),
		StopLoss:       decimal.NewFromInt(98),
	})
	require.True(t, result.PositionSize.IsZero(), "with no win-rate history, Kelly must not recommend a size")
}

func TestCalculateSizePullsWinRateFromHistory(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())
	for i := 0; i < 10; i++ {
		ps.AddTradeResult(&TradeResult{Symbol: "BTC", ReturnPct: 0.04, IsWin: true})
	}
	for i := 0; i < 4; i++ {
		ps.AddTradeResult(&TradeResult{Symbol: "BTC", ReturnPct: -0.02, IsWin: false})
	}

	result := ps.CalculateSize(&SizingRequest{
		Symbol:         "BTC",
		PortfolioValue: decimal.NewFromInt(100000),
		CurrentPrice:   decimal.NewFromInt(100),
		StopLoss:       decimal.NewFromInt(98),
	})

	require.Greater(t, result.KellyOptimal, 0.0)
	require.Greater(t, result.PositionSize.InexactFloat64(), 0.0)
}

func TestCalculateSizeNeverExceedsMaxPositionPct(t *testing.T) {
	cfg := DefaultSizingConfig()
	cfg.MaxPortfolioRisk = 1.0 // deliberately loose, to force the max-position cap to bind
	ps := NewPositionSizer(zap.NewNop(), cfg)
	for i := 0; i < 18; i++ {
		ps.AddTradeResult(&TradeResult{Symbol: "BTC", ReturnPct: 0.20, IsWin: true})
	}
	for i := 0; i < 2; i++ {
		ps.AddTradeResult(&TradeResult{Symbol: "BTC", ReturnPct: -0.02, IsWin: false})
	}

	result := ps.CalculateSize(&SizingRequest{
		Symbol:         "BTC",
		PortfolioValue: decimal.NewFromInt(100000),
		CurrentPrice:   decimal.NewFromInt(100),
		StopLoss:       decimal.NewFromInt(99),
	})
	require.LessOrEqual(t, result.PositionPct, cfg.MaxPositionPct)
	require.Equal(t, "max_position", result.LimitingFactor)
}

func TestCalculateSizeScalesDownWithLowConfidence(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())
	for i := 0; i < 10; i++ {
		ps.AddTradeResult(&TradeResult{Symbol: "BTC", ReturnPct: 0.05, IsWin: true})
	}
	for i := 0; i < 5; i++ {
		ps.AddTradeResult(&TradeResult{Symbol: "BTC", ReturnPct: -0.03, IsWin: false})
	}

	req := &SizingRequest{
		Symbol:         "BTC",
		PortfolioValue: decimal.NewFromInt(100000),
		CurrentPrice:   decimal.NewFromInt(100),
		StopLoss:       decimal.NewFromInt(98),
	}
	full := ps.CalculateSize(req)

	req.Confidence = 0.5
	scaled := ps.CalculateSize(req)

	require.Less(t, scaled.PositionPct, full.PositionPct)
}

func TestGetTradeStatistics(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())
	ps.AddTradeResult(&TradeResult{ReturnPct: 0.05, IsWin: true})
	ps.AddTradeResult(&TradeResult{ReturnPct: 0.03, IsWin: true})
	ps.AddTradeResult(&TradeResult{ReturnPct: -0.02, IsWin: false})

	stats := ps.GetTradeStatistics()
	require.Equal(t, 3, stats.TotalTrades)
	require.Equal(t, 2, stats.Wins)
	require.Equal(t, 1, stats.Losses)
	require.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	require.InDelta(t, 0.04, stats.AvgWin, 1e-9)
	require.InDelta(t, 0.02, stats.AvgLoss, 1e-9)
}
