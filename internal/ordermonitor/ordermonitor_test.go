package ordermonitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func limitOrder(id, symbol string) types.Order {
	return types.Order{
		TradeProposal: types.TradeProposal{Symbol: symbol, Side: types.Buy, OrderType: types.OrderTypeLimit, Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1)},
		ClientOrderID: id,
	}
}

func TestSweepReplacesOrdersPastTimeout(t *testing.T) {
	m := New(Config{LimitTimeout: 10 * time.Millisecond, RetryEnabled: true}, zap.NewNop())
	m.Track(limitOrder("abc", "BTC"))

	actions := m.Sweep(time.Now())
	require.Empty(t, actions, "order not yet past timeout should not be replaced")

	actions = m.Sweep(time.Now().Add(50 * time.Millisecond))
	require.Len(t, actions, 1)
	require.Equal(t, "abc", actions[0].ClientOrderID)
	require.Equal(t, types.OrderTypeMarket, actions[0].Replacement.OrderType)
	require.Equal(t, "BTC", actions[0].Replacement.Symbol)
}

func TestSweepUntracksReplacedOrdersToAvoidDuplicates(t *testing.T) {
	m := New(Config{LimitTimeout: time.Millisecond, RetryEnabled: true}, zap.NewNop())
	m.Track(limitOrder("abc", "BTC"))

	now := time.Now().Add(time.Second)
	first := m.Sweep(now)
	require.Len(t, first, 1)

	second := m.Sweep(now)
	require.Empty(t, second, "already-replaced order must not be replaced twice")
}

func TestSweepReturnsNilWhenRetryDisabled(t *testing.T) {
	m := New(Config{LimitTimeout: time.Millisecond, RetryEnabled: false}, zap.NewNop())
	m.Track(limitOrder("abc", "BTC"))

	require.Nil(t, m.Sweep(time.Now().Add(time.Hour)))
}

func TestTrackIgnoresNonLimitOrders(t *testing.T) {
	m := New(Config{LimitTimeout: time.Millisecond, RetryEnabled: true}, zap.NewNop())
	order := limitOrder("abc", "BTC")
	order.OrderType = types.OrderTypeMarket
	m.Track(order)

	require.Empty(t, m.Sweep(time.Now().Add(time.Hour)))
}

func TestUntrackPreventsSweepAction(t *testing.T) {
	m := New(Config{LimitTimeout: time.Millisecond, RetryEnabled: true}, zap.NewNop())
	m.Track(limitOrder("abc", "BTC"))
	m.Untrack("abc")

	require.Empty(t, m.Sweep(time.Now().Add(time.Hour)))
}

func TestLiquidationOrderUsesMidPriceLimitWhenSpreadAvailable(t *testing.T) {
	prop := LiquidationOrder("BTC", types.Sell, decimal.NewFromInt(1), decimal.NewFromInt(99), decimal.NewFromInt(101), true)
	require.Equal(t, types.OrderTypeLimit, prop.OrderType)
	require.True(t, prop.Price.Equal(decimal.NewFromInt(100)))
}

func TestLiquidationOrderFallsBackToMarketWithoutSpread(t *testing.T) {
	prop := LiquidationOrder("BTC", types.Sell, decimal.NewFromInt(1), decimal.Zero, decimal.Zero, false)
	require.Equal(t, types.OrderTypeMarket, prop.OrderType)
	require.Equal(t, "liquidation (panic mode, no price)", prop.Reason)
}
