// Command benchmark replays historical bars through a single strategy and
// reports risk-adjusted performance plus a Monte Carlo resampling of the
// resulting trade sequence (§6 benchmark CLI).
//
// Historical data is fetched in --batch-days windows rather than a single
// [start,end) request, the way a broker's bars endpoint is typically
// paginated; each window's candles are appended to one continuous replay.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/analyst"
	"github.com/atlas-desktop/trading-engine/internal/broker/alpaca"
	"github.com/atlas-desktop/trading-engine/internal/costs"
	"github.com/atlas-desktop/trading-engine/internal/features"
	"github.com/atlas-desktop/trading-engine/internal/performance"
	"github.com/atlas-desktop/trading-engine/internal/portfolio"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

const dateLayout = "2006-01-02"

func main() {
	os.Exit(run())
}

func run() int {
	symbol := flag.String("symbol", "", "symbol to benchmark (required)")
	startStr := flag.String("start", "", "start date YYYY-MM-DD (required)")
	endStr := flag.String("end", "", "end date YYYY-MM-DD (required)")
	strategyName := flag.String("strategy", "standard", "standard|advanced|dynamic|ensemble|<registered name>")
	batchDays := flag.Int("batch-days", 30, "historical fetch window size in days")
	startingCash := flag.Float64("starting-cash", 100000, "starting cash for the simulated portfolio")
	mcRuns := flag.Int("monte-carlo-runs", 1000, "number of Monte Carlo resampling runs")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *symbol == "" || *startStr == "" || *endStr == "" {
		fmt.Fprintln(os.Stderr, "benchmark: --symbol, --start and --end are required")
		return 2
	}
	start, err := time.Parse(dateLayout, *startStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: invalid --start: %v\n", err)
		return 2
	}
	end, err := time.Parse(dateLayout, *endStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: invalid --end: %v\n", err)
		return 2
	}
	if !end.After(start) {
		fmt.Fprintln(os.Stderr, "benchmark: --end must be after --start")
		return 2
	}
	if *batchDays <= 0 {
		fmt.Fprintln(os.Stderr, "benchmark: --batch-days must be positive")
		return 2
	}

	strat, err := resolveStrategy(*strategyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dataClient := alpaca.New(alpaca.Config{
		DataURL:    os.Getenv("ALPACA_DATA_URL"),
		TradingURL: os.Getenv("ALPACA_DATA_URL"),
		APIKey:     os.Getenv("ALPACA_API_KEY"),
		APISecret:  os.Getenv("ALPACA_SECRET_KEY"),
	}, logger)

	candles, err := fetchInBatches(ctx, dataClient, *symbol, start, end, *batchDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: fetching historical bars: %v\n", err)
		return 1
	}
	if len(candles) == 0 {
		fmt.Fprintln(os.Stderr, "benchmark: no historical bars returned for the requested range")
		return 1
	}

	trades := replay(*symbol, candles, strat, decimal.NewFromFloat(*startingCash))

	metrics := performance.Compute(trades, decimal.NewFromFloat(*startingCash))
	mc := runMonteCarlo(trades, *startingCash, *mcRuns)

	out := result{
		Symbol:      *symbol,
		Strategy:    strat.Name(),
		Start:       *startStr,
		End:         *endStr,
		CandleCount: len(candles),
		TradeCount:  len(trades),
		Metrics:     metrics,
		MonteCarlo:  mc,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: encoding result: %v\n", err)
		return 1
	}
	return 0
}

type result struct {
	Symbol      string                      `json:"symbol"`
	Strategy    string                      `json:"strategy"`
	Start       string                      `json:"start"`
	End         string                      `json:"end"`
	CandleCount int                         `json:"candle_count"`
	TradeCount  int                         `json:"trade_count"`
	Metrics     performance.Metrics         `json:"metrics"`
	MonteCarlo  performance.MonteCarloResult `json:"monte_carlo"`
}

// historicalSource is the narrow capability benchmark needs from the
// broker port.
type historicalSource interface {
	GetHistoricalBars(ctx context.Context, symbol string, start, end time.Time, tf types.Timeframe) ([]types.Candle, error)
}

func fetchInBatches(ctx context.Context, src historicalSource, symbol string, start, end time.Time, batchDays int) ([]types.Candle, error) {
	var all []types.Candle
	window := time.Duration(batchDays) * 24 * time.Hour

	for cursor := start; cursor.Before(end); cursor = cursor.Add(window) {
		windowEnd := cursor.Add(window)
		if windowEnd.After(end) {
			windowEnd = end
		}
		bars, err := src.GetHistoricalBars(ctx, symbol, cursor, windowEnd, types.Timeframe1d)
		if err != nil {
			return nil, fmt.Errorf("symbol %s window [%s,%s): %w", symbol, cursor.Format(dateLayout), windowEnd.Format(dateLayout), err)
		}
		all = append(all, bars...)
	}
	return all, nil
}

func resolveStrategy(name string) (strategy.Strategy, error) {
	switch name {
	case "standard":
		return strategy.NewDualSMA(0.001), nil
	case "advanced":
		return strategy.NewAdvancedTripleFilter(0.001, 25.0, 70, 30, 2), nil
	case "dynamic":
		return strategy.NewTrendRiding(0.02), nil
	case "ensemble":
		members := []strategy.Strategy{
			strategy.NewDualSMA(0.001),
			strategy.NewMeanReversion(30, 70),
			strategy.NewBreakout(20, 0.01, 1.5),
		}
		return strategy.NewEnsemble(members, []float64{0.4, 0.3, 0.3}, 0.5), nil
	}

	registry := buildFullRegistry()
	if s, ok := registry.Get(name); ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

func buildFullRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(strategy.NewDualSMA(0.001))
	r.Register(strategy.NewTrendRiding(0.02))
	r.Register(strategy.NewMeanReversion(30, 70))
	r.Register(strategy.NewZScoreMeanReversion(2.0, 0.5))
	r.Register(strategy.NewBreakout(20, 0.01, 1.5))
	r.Register(strategy.NewMomentumDivergence(20, 30, 70))
	r.Register(strategy.NewStatisticalMomentum(20, 1.0))
	r.Register(strategy.NewVWAP(0.02, 30, 70))
	r.Register(strategy.NewSMC(10, 0.0015))
	r.Register(strategy.NewAdvancedTripleFilter(0.001, 25.0, 70, 30, 2))
	r.Register(strategy.NewML(strategy.NeutralPredictor{}, 0.6))
	return r
}

// replay drives one symbol's candle history through a fresh Analyst context
// and PortfolioStateManager, returning the closed trades it produced.
func replay(symbol string, candles []types.Candle, strat strategy.Strategy, startingCash decimal.Decimal) []types.Trade {
	logger := zap.NewNop()
	featureEngine := features.New(symbol, features.DefaultConfig(), logger)
	costsEstimator := costs.NewEstimator(costs.Config{
		CommissionPerShare: decimal.NewFromFloat(0.005),
		SlippagePct:        decimal.NewFromFloat(0.001),
		SpreadBps:          decimal.NewFromFloat(5),
	})

	ctxAnalyst := analyst.NewContext(symbol, featureEngine, strat, analyst.Config{
		ATRStopMultiplier:   decimal.NewFromFloat(2),
		ATRProfitMultiplier: decimal.NewFromFloat(3),
		MaxPositionSizePct:  decimal.NewFromFloat(0.1),
		QuantityStep:        decimal.NewFromFloat(0.0001),
		Cooldown:            30 * time.Second,
		MinHoldTime:         time.Minute,
		Sizer:               analyst.DefaultSizer{RiskPerTradePct: decimal.NewFromFloat(0.02)},
		Costs:               costsEstimator,
	}, logger)

	pm := portfolio.New(startingCash)
	ctx := context.Background()

	for _, candle := range candles {
		prices := map[string]decimal.Decimal{symbol: candle.Close}
		snap := pm.Snapshot(prices)
		pos, hasPos := snap.Portfolio.Positions[symbol]
		info := analyst.PositionInfo{HasPosition: hasPos, Quantity: pos.Quantity, AvgPrice: pos.AveragePrice}

		proposal := ctxAnalyst.OnCandle(ctx, candle, false, info, snap.Equity, snap.AvailableCash)
		if proposal == nil {
			continue
		}

		fees := costsEstimator.Estimate(proposal.Quantity, proposal.Price)
		if trade, err := pm.ApplyFill(proposal.Symbol, proposal.Side, proposal.Quantity, proposal.Price, fees); err == nil {
			if proposal.Side == types.Buy {
				if fs := featureEngine.Update(candle); fs.ATR != nil {
					ctxAnalyst.OnFill(trade.Price, *fs.ATR)
				}
			} else if _, held := pm.Snapshot(prices).Portfolio.Positions[symbol]; !held {
				ctxAnalyst.OnPositionClosed(trade.Price)
			}
		}
	}

	return pm.ClosedTrades()
}

func runMonteCarlo(trades []types.Trade, startingCash float64, runs int) performance.MonteCarloResult {
	if len(trades) == 0 {
		return performance.MonteCarloResult{}
	}
	returns := make([]float64, 0, len(trades))
	equity := startingCash
	for _, t := range trades {
		pnl, _ := t.PnL.Float64()
		if equity != 0 {
			returns = append(returns, pnl/equity)
		}
		equity += pnl
	}
	rng := rand.New(rand.NewSource(1))
	return performance.RunMonteCarlo(returns, startingCash, runs, 0.5, rng.Float64)
}
