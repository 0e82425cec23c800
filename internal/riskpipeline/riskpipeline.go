// Package riskpipeline implements the RiskPipeline (§4.6): an ordered,
// fail-fast chain of RiskValidators sorted by ascending priority.
//
// Grounded on the teacher's internal/execution/risk_manager.go CheckOrder,
// decomposed from one large function into the chain-of-validators shape the
// specification requires; validators absent from the teacher (PriceAnomaly,
// PDT, Sentiment) are grounded on original_source/src/domain/risk/filters/
// and original_source/src/risk_management/pipeline/validation_pipeline.rs.
package riskpipeline

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Decision is a validator's verdict.
type Decision struct {
	Approved bool
	Reason   string
}

func Approve() Decision       { return Decision{Approved: true} }
func Reject(reason string) Decision { return Decision{Approved: false, Reason: reason} }

// ValidationContext bundles everything a validator may need (§4.6 step 2).
type ValidationContext struct {
	Proposal          types.TradeProposal
	Portfolio         types.Portfolio
	AvailableCash     decimal.Decimal
	Prices            map[string]decimal.Decimal
	RiskState         types.RiskState
	SentimentScore    *float64
	ExtremeFear       bool
	Correlations      map[string]float64 // symbol -> correlation with proposal.Symbol
	SectorOf          map[string]string  // symbol -> sector
	SectorExposureOf  map[string]decimal.Decimal
	RecentCandles     []types.Candle
	VolatilityMultiplier decimal.Decimal
}

// RiskValidator is one link in the chain (§4.6).
type RiskValidator interface {
	Name() string
	Priority() int
	Enabled() bool
	Validate(ctx ValidationContext) Decision
}

// Pipeline holds validators sorted by ascending priority, re-sorted on every
// Add so callers never need to pre-sort.
type Pipeline struct {
	validators []RiskValidator
}

// New builds an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Add registers a validator and re-sorts by priority.
func (p *Pipeline) Add(v RiskValidator) {
	p.validators = append(p.validators, v)
	sort.SliceStable(p.validators, func(i, j int) bool {
		return p.validators[i].Priority() < p.validators[j].Priority()
	})
}

// Evaluate runs enabled validators in priority order, short-circuiting on
// the first rejection (§4.6 step 3).
func (p *Pipeline) Evaluate(ctx ValidationContext) Decision {
	for _, v := range p.validators {
		if !v.Enabled() {
			continue
		}
		if d := v.Validate(ctx); !d.Approved {
			return d
		}
	}
	return Approve()
}

// Names returns validator names in evaluation order, useful for logging and
// tests asserting the canonical priority ordering.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.validators))
	for i, v := range p.validators {
		names[i] = v.Name()
	}
	return names
}

// --- shared helpers -------------------------------------------------------

func positionQty(portfolio types.Portfolio, symbol string) decimal.Decimal {
	if pos, ok := portfolio.Positions[symbol]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

func smaOf(candles []types.Candle, n int) (decimal.Decimal, bool) {
	if len(candles) < n || n <= 0 {
		return decimal.Zero, false
	}
	window := candles[len(candles)-n:]
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}
