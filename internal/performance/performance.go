// Package performance reconstructs trade economics from closed Trade
// records and reports risk-adjusted return metrics and a Monte Carlo
// resampling of the trade sequence, surfaced by cmd/benchmark.
//
// Grounded on the teacher's pkg/types PerformanceMetrics/MonteCarloResult
// shapes and internal/backtester/metrics.go + internal/montecarlo/simulator.go
// (re-derived here, not copied, against gonum/stat rather than the
// teacher's hand-rolled statistics); original_source/src/domain/performance/*.rs
// supplies the Calmar-ratio and ruin-probability definitions the teacher's
// backtester does not compute.
package performance

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Metrics is the risk-adjusted performance summary over a set of closed
// trades.
type Metrics struct {
	TotalTrades     int
	WinRate         float64
	ProfitFactor    float64
	Sharpe          float64
	Sortino         float64
	Calmar          float64
	MaxDrawdownPct  float64
	TotalReturnPct  float64
}

// Compute derives Metrics from a chronological list of closed trades and
// the starting equity they were traded against.
func Compute(trades []types.Trade, startingEquity decimal.Decimal) Metrics {
	if len(trades) == 0 || startingEquity.IsZero() {
		return Metrics{}
	}

	equity := startingEquity
	equityCurve := make([]float64, 0, len(trades)+1)
	eqF, _ := equity.Float64()
	equityCurve = append(equityCurve, eqF)

	returns := make([]float64, 0, len(trades))
	var wins, grossProfit, grossLoss float64

	for _, t := range trades {
		pnlF, _ := t.PnL.Float64()
		prevEq := eqF
		equity = equity.Add(t.PnL)
		eqF, _ = equity.Float64()
		equityCurve = append(equityCurve, eqF)

		if prevEq != 0 {
			returns = append(returns, pnlF/prevEq)
		}
		if pnlF > 0 {
			wins++
			grossProfit += pnlF
		} else {
			grossLoss += -pnlF
		}
	}

	m := Metrics{TotalTrades: len(trades)}
	m.WinRate = wins / float64(len(trades))
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}

	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		if std > 0 {
			m.Sharpe = mean / std * math.Sqrt(float64(len(returns)))
		}
		m.Sortino = sortino(returns)
	}

	m.MaxDrawdownPct = maxDrawdown(equityCurve)
	startF, _ := startingEquity.Float64()
	if startF != 0 {
		m.TotalReturnPct = (eqF - startF) / startF
		if m.MaxDrawdownPct > 0 {
			m.Calmar = m.TotalReturnPct / m.MaxDrawdownPct
		}
	}

	return m
}

func sortino(returns []float64) float64 {
	mean := stat.Mean(returns, nil)
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	_, downsideStd := stat.MeanStdDev(downside, nil)
	if downsideStd == 0 {
		return 0
	}
	return mean / downsideStd * math.Sqrt(float64(len(returns)))
}

func maxDrawdown(equityCurve []float64) float64 {
	peak := equityCurve[0]
	maxDD := 0.0
	for _, v := range equityCurve {
		if v > peak {
			peak = v
		}
		if peak == 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// MonteCarloResult summarizes a resampling of the trade return sequence.
type MonteCarloResult struct {
	P5, P50, P95  float64 // terminal equity percentiles
	RuinProbability float64 // fraction of runs whose equity fell to or below ruinFraction of starting equity at any step
}

// RunMonteCarlo resamples trade returns with replacement `runs` times, each
// over the same trade count, and reports terminal-equity percentiles and
// the probability of ruin (equity at or below ruinFraction × starting
// equity at any point along the run, not only at its end). Randomness is sourced from rng so callers control determinism.
func RunMonteCarlo(returns []float64, startingEquity float64, runs int, ruinFraction float64, rng func() float64) MonteCarloResult {
	if len(returns) == 0 || runs <= 0 {
		return MonteCarloResult{}
	}

	terminals := make([]float64, runs)
	ruinLevel := startingEquity * ruinFraction
	var ruinCount int

	for i := 0; i < runs; i++ {
		equity := startingEquity
		breachedRuin := false
		for j := 0; j < len(returns); j++ {
			idx := int(rng() * float64(len(returns)))
			if idx >= len(returns) {
				idx = len(returns) - 1
			}
			equity *= 1 + returns[idx]
			if equity <= ruinLevel {
				breachedRuin = true
			}
		}
		terminals[i] = equity
		if breachedRuin {
			ruinCount++
		}
	}

	sort.Float64s(terminals)
	return MonteCarloResult{
		P5:              percentile(terminals, 0.05),
		P50:             percentile(terminals, 0.50),
		P95:             percentile(terminals, 0.95),
		RuinProbability: float64(ruinCount) / float64(runs),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
