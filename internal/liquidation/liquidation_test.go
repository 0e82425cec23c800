package liquidation

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

type fakeSubmitter struct {
	submitted []types.Order
	failFor   string
}

func (f *fakeSubmitter) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	if order.Symbol == f.failFor {
		return "", errors.New("broker rejected order")
	}
	f.submitted = append(f.submitted, order)
	return "client-" + order.Symbol, nil
}

func TestSweepClosesEveryNonZeroPosition(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := New(sub, zap.NewNop())

	positions := map[string]types.Position{
		"BTC": {Symbol: "BTC", Quantity: decimal.NewFromInt(1)},
		"ETH": {Symbol: "ETH", Quantity: decimal.NewFromInt(2)},
		"SOL": {Symbol: "SOL", Quantity: decimal.Zero},
	}
	prices := map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100), "ETH": decimal.NewFromInt(50)}

	closed := svc.Sweep(context.Background(), positions, prices)

	require.Equal(t, 2, closed)
	require.Len(t, sub.submitted, 2)
	for _, o := range sub.submitted {
		require.Equal(t, types.Sell, o.Side)
	}
}

func TestSweepContinuesAfterSubmissionFailure(t *testing.T) {
	sub := &fakeSubmitter{failFor: "BTC"}
	svc := New(sub, zap.NewNop())

	positions := map[string]types.Position{
		"BTC": {Symbol: "BTC", Quantity: decimal.NewFromInt(1)},
		"ETH": {Symbol: "ETH", Quantity: decimal.NewFromInt(1)},
	}
	prices := map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100), "ETH": decimal.NewFromInt(50)}

	closed := svc.Sweep(context.Background(), positions, prices)

	require.Equal(t, 1, closed, "failed symbol should not count but sweep must continue")
	require.Len(t, sub.submitted, 1)
	require.Equal(t, "ETH", sub.submitted[0].Symbol)
}

func TestSweepHandlesMissingPriceAsBlindMarketOrder(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := New(sub, zap.NewNop())

	positions := map[string]types.Position{"BTC": {Symbol: "BTC", Quantity: decimal.NewFromInt(1)}}
	closed := svc.Sweep(context.Background(), positions, map[string]decimal.Decimal{})

	require.Equal(t, 1, closed)
	require.Equal(t, types.OrderTypeMarket, sub.submitted[0].OrderType)
}
