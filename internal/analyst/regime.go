package analyst

import (
	"github.com/atlas-desktop/trading-engine/internal/regime"
	"github.com/atlas-desktop/trading-engine/internal/sizing"
	"github.com/atlas-desktop/trading-engine/internal/strategy"
)

// RegimeSelector picks the active strategy for a symbol from the current
// market regime, adapting the teacher's regime.RegimeDetector into the
// "regime-selected strategy" alternative named in §4.5 step 3.
type RegimeSelector struct {
	detector *regime.RegimeDetector
	registry *strategy.Registry
	fallback strategy.Strategy

	byRegime map[regime.RegimeType]string
}

// NewRegimeSelector builds a selector over a registry of named strategies,
// with byRegime mapping each RegimeType to the strategy that should trade
// it (e.g. RegimeTrending -> "trend_riding", RegimeMeanReverting ->
// "zscore_mean_reversion").
func NewRegimeSelector(detector *regime.RegimeDetector, registry *strategy.Registry, fallback strategy.Strategy, byRegime map[regime.RegimeType]string) *RegimeSelector {
	return &RegimeSelector{detector: detector, registry: registry, fallback: fallback, byRegime: byRegime}
}

// Select returns the strategy the current regime dictates, falling back to
// the default strategy when the regime is low-confidence or unmapped.
func (s *RegimeSelector) Select() strategy.Strategy {
	state := s.detector.GetCurrentRegime()
	if state == nil {
		return s.fallback
	}
	name, ok := s.byRegime[state.Primary]
	if !ok {
		return s.fallback
	}
	strat, ok := s.registry.Get(name)
	if !ok {
		return s.fallback
	}
	return strat
}

// KellyCrossCheck scales a proposed quantity down when the teacher's
// fractional-Kelly sizer disagrees with the ATR-based size, adapting
// sizing.PositionSizer into the Analyst's sizing gate (§4.5, §9). It never
// scales a size up: Kelly is a brake, not an amplifier, over the ATR-risk
// formula that is the documented primary sizing method.
type KellyCrossCheck struct {
	sizer *sizing.PositionSizer
}

// NewKellyCrossCheck wraps a configured PositionSizer.
func NewKellyCrossCheck(sizer *sizing.PositionSizer) *KellyCrossCheck {
	return &KellyCrossCheck{sizer: sizer}
}

// Adjust returns the smaller of the ATR-implied quantity and the teacher's
// Kelly-derived position size, never scaling the ATR quantity up. req's
// win-rate fields are normally left zero: CalculateSize falls back to the
// symbol's own recorded trade history (see RecordTrade).
func (k *KellyCrossCheck) Adjust(req *sizing.SizingRequest, atrQty float64) float64 {
	if k.sizer == nil || req == nil {
		return atrQty
	}
	result := k.sizer.CalculateSize(req)
	if result == nil {
		return atrQty
	}
	kellyQty, _ := result.PositionUnits.Float64()
	if kellyQty <= 0 {
		return atrQty
	}
	if kellyQty < atrQty {
		return kellyQty
	}
	return atrQty
}

// RecordTrade feeds a closed trade's outcome back into the sizer's win-rate
// statistics so future Adjust calls reflect this symbol's own history.
func (k *KellyCrossCheck) RecordTrade(result *sizing.TradeResult) {
	if k.sizer == nil || result == nil {
		return
	}
	k.sizer.AddTradeResult(result)
}
