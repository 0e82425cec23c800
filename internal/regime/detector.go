// Package regime classifies the market a symbol is trading in — bull, bear,
// high/low volatility, trending, mean-reverting — from its own recent
// candle stream, so the Analyst can swap strategies per §4.5 step 3 instead
// of running one fixed strategy through every market condition.
//
// Grounded on the teacher's internal/regime/detector.go HMM-plus-rules
// detector, restructured around per-symbol Candle input (the teacher took
// a bare return series) and with the classifier's unused training/reporting
// surface trimmed to the calls the Analyst and its cross-checks actually
// make — see DESIGN.md.
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Phase names the market condition a symbol is currently in.
type Phase string

const (
	PhaseBull          Phase = "bull"
	PhaseBear          Phase = "bear"
	PhaseHighVol       Phase = "high_vol"
	PhaseLowVol        Phase = "low_vol"
	PhaseMeanReverting Phase = "mean_reverting"
	PhaseTrending      Phase = "trending"
	PhaseUnknown       Phase = "unknown"
)

// RegimeType is the spelling the rest of the tree wires strategy-selection
// maps against; kept as an alias so Phase stays the single source of truth.
type RegimeType = Phase

const (
	RegimeBull          = PhaseBull
	RegimeBear          = PhaseBear
	RegimeHighVol       = PhaseHighVol
	RegimeLowVol        = PhaseLowVol
	RegimeMeanReverting = PhaseMeanReverting
	RegimeTrending      = PhaseTrending
	RegimeUnknown       = PhaseUnknown
)

// State is the detector's read of the market at a point in time.
type State struct {
	Primary       Phase
	Confidence    float64 // 0-1
	Duration      time.Duration
	StartedAt     time.Time
	Volatility    float64 // annualized
	Trend         float64 // -1..1
	MeanReversion float64 // lag-1 autocorrelation of returns
}

// RegimeState is the State alias the strategy selector cross-check matches
// GetCurrentRegime's return type against.
type RegimeState = State

// Config tunes the classifier's lookback windows and thresholds.
type Config struct {
	WindowSize       int     // candles of history required before classifying
	VolatilityWindow int     // window for the rolling volatility estimate
	VolThreshold     float64 // annualized vol separating high/low-vol regimes
	TrendThreshold   float64 // |trend score| separating bull/bear from range
	MRThreshold      float64 // autocorrelation below this reads as mean-reverting
}

// RegimeConfig is the alias the engine wiring constructs.
type RegimeConfig = Config

// DefaultRegimeConfig returns the classifier's defaults.
func DefaultRegimeConfig() *Config {
	return &Config{
		WindowSize:       100,
		VolatilityWindow: 20,
		VolThreshold:     0.25,
		TrendThreshold:   0.3,
		MRThreshold:      -0.1,
	}
}

// RegimeDetector tracks one symbol's recent candle return series and
// classifies its current phase on every new data point.
type RegimeDetector struct {
	logger *zap.Logger
	cfg    *Config

	mu        sync.RWMutex
	current   *State
	lastPrice decimal.Decimal
	hasPrice  bool
	returns   []float64
}

// NewRegimeDetector builds a detector; a nil config falls back to
// DefaultRegimeConfig.
func NewRegimeDetector(logger *zap.Logger, cfg *Config) *RegimeDetector {
	if cfg == nil {
		cfg = DefaultRegimeConfig()
	}
	return &RegimeDetector{
		logger:  logger,
		cfg:     cfg,
		returns: make([]float64, 0, cfg.WindowSize*2),
	}
}

// AddDataPoint feeds a new close into the detector, deriving the period
// return from the previous close and reclassifying once enough history has
// accumulated. volume is accepted for call-site symmetry with the Analyst's
// per-candle pipeline but doesn't currently factor into classification.
func (rd *RegimeDetector) AddDataPoint(price, volume decimal.Decimal, timestamp time.Time) {
	rd.mu.Lock()
	defer rd.mu.Unlock()

	priceFloat, _ := price.Float64()

	if rd.hasPrice {
		last, _ := rd.lastPrice.Float64()
		if last != 0 {
			rd.returns = append(rd.returns, (priceFloat-last)/last)
		}
	}
	rd.lastPrice = price
	rd.hasPrice = true

	maxSize := rd.cfg.WindowSize * 2
	if len(rd.returns) > maxSize {
		rd.returns = rd.returns[len(rd.returns)-rd.cfg.WindowSize:]
	}

	rd.classify()
}

// classify recomputes the current phase from the return buffer. Callers
// hold rd.mu.
func (rd *RegimeDetector) classify() {
	if len(rd.returns) < rd.cfg.WindowSize {
		return
	}
	window := rd.returns[len(rd.returns)-rd.cfg.WindowSize:]

	trend := trendScore(window)
	volWindow := window
	if n := rd.cfg.VolatilityWindow; n > 0 && n < len(window) {
		volWindow = window[len(window)-n:]
	}
	vol := stdDev(volWindow) * math.Sqrt(252)
	mr := autocorrelation(window)

	phase, confidence := rd.classifyPhase(trend, vol, mr)

	state := &State{
		Primary:       phase,
		Confidence:    confidence,
		Volatility:    vol,
		Trend:         trend,
		MeanReversion: mr,
		StartedAt:     time.Now(),
	}
	if rd.current != nil && rd.current.Primary == phase {
		state.StartedAt = rd.current.StartedAt
		state.Duration = time.Since(rd.current.StartedAt)
	}
	rd.current = state
}

// classifyPhase applies the threshold rules in order of strongest signal
// first: volatility extremes, then trend direction, then mean reversion.
func (rd *RegimeDetector) classifyPhase(trend, vol, mr float64) (Phase, float64) {
	phase := PhaseUnknown
	confidence := 0.5

	switch {
	case vol > rd.cfg.VolThreshold:
		phase, confidence = PhaseHighVol, math.Min(1, 0.5+vol/2)
	case vol < rd.cfg.VolThreshold/2:
		phase, confidence = PhaseLowVol, 0.5+(rd.cfg.VolThreshold-vol)/rd.cfg.VolThreshold
	}

	if math.Abs(trend) > rd.cfg.TrendThreshold && phase != PhaseHighVol {
		if trend > 0 {
			phase, confidence = PhaseBull, 0.5+trend/2
		} else {
			phase, confidence = PhaseBear, 0.5+math.Abs(trend)/2
		}
		if math.Abs(trend) > rd.cfg.TrendThreshold*1.5 {
			phase = PhaseTrending
		}
	}

	if mr < rd.cfg.MRThreshold && confidence < 0.6 {
		phase, confidence = PhaseMeanReverting, 0.5+math.Abs(mr)
	}

	return phase, math.Min(1, confidence)
}

// GetCurrentRegime returns the detector's latest read, or PhaseUnknown with
// zero confidence before enough history has accumulated.
func (rd *RegimeDetector) GetCurrentRegime() *State {
	rd.mu.RLock()
	defer rd.mu.RUnlock()

	if rd.current == nil {
		return &State{Primary: PhaseUnknown}
	}
	state := *rd.current
	state.Duration = time.Since(state.StartedAt)
	return &state
}

// StrategyAdjustments recommends sizing/stop multipliers for the current
// phase, the way KellyCrossCheck applies its own size cross-check.
type StrategyAdjustments struct {
	PositionSizeMultiplier float64
	StopLossMultiplier     float64
	TakeProfitMultiplier   float64
}

// GetStrategyAdjustments returns the recommended multipliers for the
// current phase, pulled toward neutral (1.0) when confidence is low.
func (rd *RegimeDetector) GetStrategyAdjustments() *StrategyAdjustments {
	rd.mu.RLock()
	defer rd.mu.RUnlock()

	if rd.current == nil {
		return &StrategyAdjustments{PositionSizeMultiplier: 1, StopLossMultiplier: 1, TakeProfitMultiplier: 1}
	}

	adj := &StrategyAdjustments{}
	switch rd.current.Primary {
	case PhaseBull:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 1.2, 0.8, 1.5
	case PhaseBear:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 0.8, 0.7, 1.2
	case PhaseHighVol:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 0.5, 1.5, 2.0
	case PhaseLowVol:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 1.5, 0.5, 0.8
	case PhaseMeanReverting:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 1.2, 0.8, 0.9
	case PhaseTrending:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 1.3, 1.0, 1.5
	default:
		adj.PositionSizeMultiplier, adj.StopLossMultiplier, adj.TakeProfitMultiplier = 0.7, 1.0, 1.0
	}

	conf := rd.current.Confidence
	if conf < 0.7 {
		adj.PositionSizeMultiplier = 1 + (adj.PositionSizeMultiplier-1)*conf
		adj.StopLossMultiplier = 1 + (adj.StopLossMultiplier-1)*conf
		adj.TakeProfitMultiplier = 1 + (adj.TakeProfitMultiplier-1)*conf
	}
	return adj
}

func trendScore(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	vol := stdDev(returns)
	if vol == 0 {
		return 0
	}
	score := sum / (vol * math.Sqrt(float64(len(returns))))
	return math.Max(-1, math.Min(1, score))
}

func stdDev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// autocorrelation returns the lag-1 autocorrelation of returns; negative
// values indicate mean-reverting behavior.
func autocorrelation(returns []float64) float64 {
	n := len(returns)
	if n < 3 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var covariance, variance float64
	for i := 1; i < n; i++ {
		covariance += (returns[i] - mean) * (returns[i-1] - mean)
		variance += (returns[i] - mean) * (returns[i] - mean)
	}
	if variance == 0 {
		return 0
	}
	return covariance / variance
}
