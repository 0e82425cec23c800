// Package features implements the FeatureEngine (§4.3): one instance per
// symbol, maintaining an online rolling candle buffer and producing an
// optional-valued FeatureSet on every new candle. Values stay nil until
// each indicator's own warmup window has been filled.
//
// Indicator math is delegated to github.com/markcheno/go-talib (donor:
// aristath-sentinel) rather than hand-rolled float loops, per the
// domain-stack expansion in SPEC_FULL.md §2b. Money-facing outputs (SMA,
// BB, ATR, VWAP) are converted back to decimal.Decimal at this boundary;
// RSI/MACD/ADX/z-score remain float64 since they are inherently real-valued
// indicator math (§3).
package features

import (
	"math"
	"sync"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Config fixes the indicator periods and constants for one Engine instance.
type Config struct {
	FastSMAPeriod  int
	SlowSMAPeriod  int
	TrendSMAPeriod int
	RSIPeriod      int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	ATRPeriod      int
	ADXPeriod      int
	BBPeriod       int
	BBStdDev       float64
	ZScorePeriod   int
	MaxBuffer      int // retained candle history; must exceed the largest period
}

// DefaultConfig mirrors the teacher/pack's common technical defaults.
func DefaultConfig() Config {
	return Config{
		FastSMAPeriod:  20,
		SlowSMAPeriod:  50,
		TrendSMAPeriod: 200,
		RSIPeriod:      14,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		ATRPeriod:      14,
		ADXPeriod:      14,
		BBPeriod:       20,
		BBStdDev:       2.0,
		ZScorePeriod:   20,
		MaxBuffer:      400,
	}
}

// Engine is one per-symbol FeatureEngine.
type Engine struct {
	symbol string
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	candles       []types.Candle
	warmupWarned  map[string]bool
	sessionVWAPPV decimal.Decimal // Σ price*volume since session anchor
	sessionVol    decimal.Decimal // Σ volume since session anchor
}

// New creates an Engine for symbol with the given config.
func New(symbol string, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		symbol:        symbol,
		cfg:           cfg,
		logger:        logger,
		warmupWarned:  make(map[string]bool),
		sessionVWAPPV: decimal.Zero,
		sessionVol:    decimal.Zero,
	}
}

// ResetSession re-anchors the VWAP accumulator, called at session boundary.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionVWAPPV = decimal.Zero
	e.sessionVol = decimal.Zero
}

// Update folds in a new candle and returns the current FeatureSet. It never
// panics on malformed input: invalid candles are rejected by the caller at
// ingress (§3), and any internal math error substitutes a nil (best-effort)
// value with a warning logged exactly once per indicator per warmup phase.
func (e *Engine) Update(c types.Candle) types.FeatureSet {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.candles = append(e.candles, c)
	if len(e.candles) > e.cfg.MaxBuffer {
		e.candles = e.candles[len(e.candles)-e.cfg.MaxBuffer:]
	}

	e.sessionVWAPPV = e.sessionVWAPPV.Add(c.Close.Mul(c.Volume))
	e.sessionVol = e.sessionVol.Add(c.Volume)

	closes := e.closesFloat()
	highs := e.highsFloat()
	lows := e.lowsFloat()

	fs := types.FeatureSet{}

	fs.SMAFast = e.decimalSMA(e.cfg.FastSMAPeriod)
	fs.SMASlow = e.decimalSMA(e.cfg.SlowSMAPeriod)
	fs.SMATrend = e.decimalSMA(e.cfg.TrendSMAPeriod)

	if v, ok := e.lastFloat(talib.Rsi(closes, e.cfg.RSIPeriod), e.cfg.RSIPeriod); ok {
		fs.RSI = &v
	} else {
		e.warnOnce("rsi")
	}

	if len(closes) >= e.cfg.MACDSlow+e.cfg.MACDSignal {
		macd, signal, hist := talib.Macd(closes, e.cfg.MACDFast, e.cfg.MACDSlow, e.cfg.MACDSignal)
		if lm := lastValid(macd); lm != nil {
			fs.MACDLine = lm
		}
		if ls := lastValid(signal); ls != nil {
			fs.MACDSignal = ls
		}
		if lh := lastValid(hist); lh != nil {
			fs.MACDHist = lh
		}
	} else {
		e.warnOnce("macd")
	}

	if len(highs) >= e.cfg.ATRPeriod+1 {
		atr := talib.Atr(highs, lows, closes, e.cfg.ATRPeriod)
		if v, ok := lastFloatOK(atr); ok {
			dv := decimal.NewFromFloat(v)
			fs.ATR = &dv
		}
	} else {
		e.warnOnce("atr")
	}

	if len(highs) >= e.cfg.ADXPeriod*2 {
		adx := e.adxWilder(highs, lows, closes)
		if adx != nil {
			fs.ADX = adx
		}
	} else {
		e.warnOnce("adx")
	}

	if len(closes) >= e.cfg.BBPeriod {
		upper, middle, lower := talib.BBands(closes, e.cfg.BBPeriod, e.cfg.BBStdDev, e.cfg.BBStdDev, talib.SMA)
		if u, ok := lastFloatOK(upper); ok {
			du := decimal.NewFromFloat(u)
			fs.BBUpper = &du
		}
		if m, ok := lastFloatOK(middle); ok {
			dm := decimal.NewFromFloat(m)
			fs.BBMiddle = &dm
		}
		if l, ok := lastFloatOK(lower); ok {
			dl := decimal.NewFromFloat(l)
			fs.BBLower = &dl
		}
	} else {
		e.warnOnce("bb")
	}

	if z := e.zscore(closes); z != nil {
		fs.ZScore = z
	}

	if !e.sessionVol.IsZero() {
		vwap := e.sessionVWAPPV.Div(e.sessionVol)
		fs.VWAP = &vwap
	}

	return fs
}

// adxWilder computes ADX with Wilder's accumulate-then-smooth
// initialization (§4.3), via go-talib's standard-conforming implementation.
func (e *Engine) adxWilder(highs, lows, closes []float64) *float64 {
	adx := talib.Adx(highs, lows, closes, e.cfg.ADXPeriod)
	v, ok := lastFloatOK(adx)
	if !ok {
		e.warnOnce("adx")
		return nil
	}
	return &v
}

// zscore computes (last - mean) / stddev over the configured lookback.
func (e *Engine) zscore(closes []float64) *float64 {
	n := e.cfg.ZScorePeriod
	if len(closes) < n {
		e.warnOnce("zscore")
		return nil
	}
	window := closes[len(closes)-n:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}
	z := (window[len(window)-1] - mean) / std
	return &z
}

func (e *Engine) decimalSMA(period int) *decimal.Decimal {
	if len(e.candles) < period {
		e.warnOnce("sma")
		return nil
	}
	sum := decimal.Zero
	for _, c := range e.candles[len(e.candles)-period:] {
		sum = sum.Add(c.Close)
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))
	return &avg
}

func (e *Engine) closesFloat() []float64 {
	out := make([]float64, len(e.candles))
	for i, c := range e.candles {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}

func (e *Engine) highsFloat() []float64 {
	out := make([]float64, len(e.candles))
	for i, c := range e.candles {
		f, _ := c.High.Float64()
		out[i] = f
	}
	return out
}

func (e *Engine) lowsFloat() []float64 {
	out := make([]float64, len(e.candles))
	for i, c := range e.candles {
		f, _ := c.Low.Float64()
		out[i] = f
	}
	return out
}

func (e *Engine) lastFloat(series []float64, warmup int) (float64, bool) {
	if len(series) == 0 || len(e.candles) < warmup {
		return 0, false
	}
	return lastFloatOK(series)
}

func lastFloatOK(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func lastValid(series []float64) *float64 {
	v, ok := lastFloatOK(series)
	if !ok {
		return nil
	}
	return &v
}

// warnOnce logs a structured warmup-incomplete warning exactly once per
// symbol per indicator (§4.3).
func (e *Engine) warnOnce(indicator string) {
	if e.warmupWarned[indicator] {
		return
	}
	e.warmupWarned[indicator] = true
	if e.logger != nil {
		e.logger.Debug("indicator warmup incomplete",
			zap.String("symbol", e.symbol),
			zap.String("indicator", indicator))
	}
}

// CandleBuffer returns a copy of the retained candle history, used by
// strategies that need windowed access (Breakout, SMC, MomentumDivergence).
func (e *Engine) CandleBuffer() []types.Candle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Candle, len(e.candles))
	copy(out, e.candles)
	return out
}
