// Package liquidation implements the LiquidationService (§4.10): an
// emergency sweep that closes every open position with a market or
// mid-price-limit sell, triggered by the CircuitBreaker or an operator
// command. Trading remains halted until manual review.
//
// Grounded on original_source/src/execution/liquidation_service.rs (no
// teacher equivalent exists; the teacher's
// internal/execution/executor.go ExchangeAdapter/ClosePosition shape
// supplies the broker-submission idiom).
package liquidation

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/ordermonitor"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Submitter is the narrow broker capability liquidation needs.
type Submitter interface {
	SubmitOrder(ctx context.Context, order types.Order) (clientOrderID string, err error)
}

// Service sweeps every open position into a closing order.
type Service struct {
	broker Submitter
	logger *zap.Logger
}

// New builds a LiquidationService.
func New(broker Submitter, logger *zap.Logger) *Service {
	return &Service{broker: broker, logger: logger.Named("liquidation")}
}

// Sweep emits a closing sell for every non-zero position in the snapshot.
// A missing price does not stop the sweep: the order is still submitted as
// a blind market order, logged as a warning (§4.10). Emission failures are
// logged and do not halt the remaining sweep.
func (s *Service) Sweep(ctx context.Context, positions map[string]types.Position, prices map[string]decimal.Decimal) int {
	closed := 0
	for symbol, pos := range positions {
		if pos.Quantity.IsZero() {
			continue
		}
		price, havePrice := prices[symbol]
		if !havePrice {
			s.logger.Warn("liquidating without a current price (blind market order)", zap.String("symbol", symbol))
		}
		proposal := ordermonitor.LiquidationOrder(symbol, types.Sell, pos.Quantity, price, price, havePrice)
		order := types.Order{TradeProposal: proposal}

		if _, err := s.broker.SubmitOrder(ctx, order); err != nil {
			s.logger.Error("liquidation order failed, continuing sweep", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		closed++
	}
	return closed
}
