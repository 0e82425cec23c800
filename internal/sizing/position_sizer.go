// Package sizing turns a proposed trade's risk/reward into a position size
// via fractional Kelly, used as the Analyst's Kelly cross-check (§4.5, §9)
// against the ATR-based size that is the documented primary sizing method.
//
// Grounded on the teacher's internal/sizing/position_sizer.go Kelly
// calculator, trimmed of the VaR/volatility-target/correlation-weighting
// sizers the teacher bundled alongside it that nothing in this tree wires
// — see DESIGN.md — and extended with a trade-history feed so Kelly's
// win-rate inputs come from the symbol's own realized trades instead of
// always reading zero.
package sizing

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SizingConfig configures fractional-Kelly position sizing.
type SizingConfig struct {
	MaxPositionPct   float64 // cap on position size as % of portfolio
	MaxPortfolioRisk float64 // cap on risk as % of portfolio
	KellyFraction    float64 // fraction of full Kelly to actually use
	MinPositionPct   float64 // floor on position size
	LookbackTrades   int     // trades retained for win-rate statistics
}

// DefaultSizingConfig returns conservative quarter-Kelly defaults.
func DefaultSizingConfig() *SizingConfig {
	return &SizingConfig{
		MaxPositionPct:   0.10,
		MaxPortfolioRisk: 0.02,
		KellyFraction:    0.25,
		MinPositionPct:   0.005,
		LookbackTrades:   100,
	}
}

// TradeResult is one closed trade's outcome, fed back into the sizer's
// win-rate statistics via AddTradeResult.
type TradeResult struct {
	Symbol    string
	Entry     decimal.Decimal
	Exit      decimal.Decimal
	ReturnPct float64
	IsWin     bool
}

// PositionSizer computes fractional-Kelly position sizes for a single
// symbol, tracking that symbol's own trade history for its win-rate inputs.
type PositionSizer struct {
	logger *zap.Logger
	cfg    *SizingConfig

	mu      sync.RWMutex
	history []*TradeResult
}

// NewPositionSizer builds a sizer; a nil config falls back to
// DefaultSizingConfig.
func NewPositionSizer(logger *zap.Logger, cfg *SizingConfig) *PositionSizer {
	if cfg == nil {
		cfg = DefaultSizingConfig()
	}
	return &PositionSizer{
		logger:  logger,
		cfg:     cfg,
		history: make([]*TradeResult, 0, cfg.LookbackTrades*2),
	}
}

// SizingRequest carries the inputs CalculateSize needs. WinRate/AvgWin/
// AvgLoss are optional: when left zero, CalculateSize pulls them from the
// sizer's own trade history instead.
type SizingRequest struct {
	Symbol         string
	PortfolioValue decimal.Decimal
	CurrentPrice   decimal.Decimal
	StopLoss       decimal.Decimal
	WinRate        float64
	AvgWin         float64
	AvgLoss        float64
	Confidence     float64 // signal confidence, 0-1
}

// SizingResult is the calculated position size and the Kelly math behind it.
type SizingResult struct {
	PositionSize   decimal.Decimal // dollar amount
	PositionUnits  decimal.Decimal // units at CurrentPrice
	PositionPct    float64
	KellyOptimal   float64 // full Kelly fraction
	KellyUsed      float64 // after KellyFraction and confidence scaling
	LimitingFactor string
}

// CalculateSize returns the Kelly-derived position size for req. When
// req.WinRate is zero, win-rate/avg-win/avg-loss are pulled from the
// sizer's tracked trade history for req.Symbol.
func (ps *PositionSizer) CalculateSize(req *SizingRequest) *SizingResult {
	winRate, avgWin, avgLoss := req.WinRate, req.AvgWin, req.AvgLoss
	if winRate == 0 {
		stats := ps.tradeStatistics()
		winRate, avgWin, avgLoss = stats.WinRate, stats.AvgWin, stats.AvgLoss
	}

	result := &SizingResult{}

	portfolioFloat, _ := req.PortfolioValue.Float64()
	priceFloat, _ := req.CurrentPrice.Float64()
	stopFloat, _ := req.StopLoss.Float64()

	riskPct := 0.0
	if priceFloat > 0 {
		riskPct = math.Abs(priceFloat-stopFloat) / priceFloat
	}
	if riskPct <= 0 {
		return result
	}

	kellyOptimal := calculateKelly(winRate, avgWin, avgLoss)
	result.KellyOptimal = kellyOptimal

	kellyUsed := kellyOptimal * ps.cfg.KellyFraction
	result.KellyUsed = kellyUsed

	riskBasedPct := ps.cfg.MaxPortfolioRisk / riskPct
	positionPct := math.Min(kellyUsed, riskBasedPct)
	result.LimitingFactor = "kelly"
	if riskBasedPct < kellyUsed {
		result.LimitingFactor = "risk_based"
	}

	if req.Confidence > 0 && req.Confidence < 1 {
		positionPct *= req.Confidence
	}

	if positionPct > ps.cfg.MaxPositionPct {
		positionPct = ps.cfg.MaxPositionPct
		result.LimitingFactor = "max_position"
	}
	if positionPct < ps.cfg.MinPositionPct {
		positionPct = 0 // below the floor reads as "don't trade this size"
	}

	result.PositionPct = positionPct
	positionDollars := portfolioFloat * positionPct
	result.PositionSize = decimal.NewFromFloat(positionDollars)
	if priceFloat > 0 {
		result.PositionUnits = result.PositionSize.Div(req.CurrentPrice)
	}

	return result
}

// calculateKelly implements the Kelly Criterion: f* = p - q/b, where p is
// win probability, q = 1-p, and b is the win/loss payoff ratio.
func calculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 {
		return 0
	}
	p := winRate
	q := 1 - p
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	kelly := p - q/b
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		return 1
	}
	return kelly
}

// AddTradeResult records a closed trade for future win-rate statistics,
// trimming to twice the configured lookback.
func (ps *PositionSizer) AddTradeResult(result *TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.history = append(ps.history, result)
	if len(ps.history) > ps.cfg.LookbackTrades*2 {
		ps.history = ps.history[len(ps.history)-ps.cfg.LookbackTrades:]
	}
}

// TradeStatistics summarizes the sizer's tracked trade history.
type TradeStatistics struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	AvgWin      float64
	AvgLoss     float64
}

func (ps *PositionSizer) tradeStatistics() TradeStatistics {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.statisticsLocked()
}

// GetTradeStatistics returns the sizer's current win-rate statistics.
func (ps *PositionSizer) GetTradeStatistics() TradeStatistics {
	return ps.tradeStatistics()
}

func (ps *PositionSizer) statisticsLocked() TradeStatistics {
	stats := TradeStatistics{TotalTrades: len(ps.history)}
	if len(ps.history) == 0 {
		return stats
	}

	var sumWins, sumLosses float64
	for _, trade := range ps.history {
		if trade.IsWin {
			stats.Wins++
			sumWins += trade.ReturnPct
		} else {
			stats.Losses++
			sumLosses += math.Abs(trade.ReturnPct)
		}
	}

	stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	if stats.Wins > 0 {
		stats.AvgWin = sumWins / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = sumLosses / float64(stats.Losses)
	}
	return stats
}
