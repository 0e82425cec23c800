// Package strategy implements the Strategy set (§4.4): pure, deterministic
// functions from an AnalysisContext to an optional Signal. No strategy
// performs I/O or retains unbounded state; numerical edge cases (div by
// zero, NaN) yield a nil signal rather than panicking.
//
// Grounded on the teacher's internal/strategy/strategy.go Strategy
// interface, StrategyRegistry and BaseStrategy; strategies absent from the
// teacher (SMC, Ensemble, ML, ZScoreMeanReversion, StatisticalMomentum,
// AdvancedTripleFilter, DualSMA) are grounded on original_source's Rust
// strategy files named in DESIGN.md.
package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Strategy is the polymorphic capability set from §4.4.
type Strategy interface {
	Name() string
	WarmupRequired() int
	Analyze(ctx types.AnalysisContext) *types.Signal
}

// Registry holds the closed set of registered strategies, keyed by name,
// mirroring the teacher's StrategyRegistry.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds or replaces a strategy by name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get returns the strategy registered under name, if any.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names returns all registered strategy names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		out = append(out, n)
	}
	return out
}

// signal is a small constructor helper to keep strategies terse.
func signal(side types.Side, reason string, confidence float64) *types.Signal {
	return &types.Signal{Side: side, Reason: reason, Confidence: confidence}
}

// clamp01 keeps confidence within the documented [0,1] range (§3).
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// rsiValue is a small accessor that fails safe (nil signal upstream) when
// the indicator hasn't warmed up.
func rsiValue(ctx types.AnalysisContext) (float64, bool) {
	if ctx.Features.RSI == nil {
		return 0, false
	}
	return *ctx.Features.RSI, true
}

func smaFast(ctx types.AnalysisContext) (decimal.Decimal, bool) {
	if ctx.Features.SMAFast == nil {
		return decimal.Zero, false
	}
	return *ctx.Features.SMAFast, true
}

func smaSlow(ctx types.AnalysisContext) (decimal.Decimal, bool) {
	if ctx.Features.SMASlow == nil {
		return decimal.Zero, false
	}
	return *ctx.Features.SMASlow, true
}

func smaTrend(ctx types.AnalysisContext) (decimal.Decimal, bool) {
	if ctx.Features.SMATrend == nil {
		return decimal.Zero, false
	}
	return *ctx.Features.SMATrend, true
}

func atrValue(ctx types.AnalysisContext) (decimal.Decimal, bool) {
	if ctx.Features.ATR == nil || ctx.Features.ATR.IsZero() {
		return decimal.Zero, false
	}
	return *ctx.Features.ATR, true
}

func adxValue(ctx types.AnalysisContext) (float64, bool) {
	if ctx.Features.ADX == nil {
		return 0, false
	}
	return *ctx.Features.ADX, true
}

func macdValue(ctx types.AnalysisContext) (line, sig, hist float64, ok bool) {
	if ctx.Features.MACDLine == nil || ctx.Features.MACDSignal == nil || ctx.Features.MACDHist == nil {
		return 0, 0, 0, false
	}
	return *ctx.Features.MACDLine, *ctx.Features.MACDSignal, *ctx.Features.MACDHist, true
}
