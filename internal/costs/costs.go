// Package costs estimates the commission, slippage and spread cost of a
// prospective trade so the Analyst can gate on expected profitability
// before emitting a TradeProposal (§4.5). Grounded on the teacher's
// internal/execution/executor.go SlippageCalculator/ExecutorConfig shape,
// adapted from an order-book-depth model to the simpler percentage/per-share
// model named in §6 (commission_per_share, slippage_pct, spread_bps).
package costs

import "github.com/shopspring/decimal"

// Config mirrors config.CostsConfig without importing it, keeping this
// package dependency-free of the config layer.
type Config struct {
	CommissionPerShare decimal.Decimal
	SlippagePct        decimal.Decimal
	SpreadBps          decimal.Decimal
}

// Estimator computes the cost of a single fill (one side of a trade) for a
// prospective order.
type Estimator struct {
	cfg Config
}

// NewEstimator builds a cost Estimator from the given cost model.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate returns the expected total cost (commission + slippage + half the
// spread) of trading qty shares at price.
func (e *Estimator) Estimate(qty, price decimal.Decimal) decimal.Decimal {
	commission := qty.Mul(e.cfg.CommissionPerShare)
	notional := qty.Mul(price)
	slippage := notional.Mul(e.cfg.SlippagePct)
	spread := notional.Mul(e.cfg.SpreadBps).Div(decimal.NewFromInt(10000)).Div(decimal.NewFromInt(2))
	return commission.Add(slippage).Add(spread)
}

// IsProfitable reports whether the expected profit (stopDistance ×
// profitMultiplier, scaled by qty) clears the single-fill cost from Estimate —
// the Analyst's cost-aware profitability gate (§4.5).
func (e *Estimator) IsProfitable(qty, price, stopDistance decimal.Decimal, profitMultiplier decimal.Decimal) bool {
	expectedProfit := qty.Mul(stopDistance).Mul(profitMultiplier)
	cost := e.Estimate(qty, price)
	return expectedProfit.GreaterThan(cost)
}
