package reconciler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/portfolio"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

type fakeRiskState struct {
	calls []bool
}

func (f *fakeRiskState) RecordTradeOutcome(won bool) { f.calls = append(f.calls, won) }

func newTestReconciler(t *testing.T) (*Reconciler, *portfolio.Manager, *fakeRiskState) {
	t.Helper()
	pm := portfolio.New(decimal.NewFromInt(100000))
	rs := &fakeRiskState{}
	r := New(Config{TTL: time.Minute, Tick: time.Second}, pm, rs, zap.NewNop())
	return r, pm, rs
}

func TestHandleUpdateReleasesReservationOnRejected(t *testing.T) {
	r, pm, _ := newTestReconciler(t)
	token, err := pm.Reserve("BTC", types.Buy, decimal.NewFromInt(1000))
	require.NoError(t, err)

	r.Track("abc", types.PendingOrder{ClientOrderID: "abc", Symbol: "BTC", Side: types.Buy, RequestedQty: decimal.NewFromInt(1)}, token)

	before := pm.Snapshot(nil).AvailableCash
	r.HandleUpdate(types.OrderUpdate{ClientOrderID: "abc", Status: types.OrderStatusRejected})

	after := pm.Snapshot(nil).AvailableCash
	require.True(t, after.GreaterThan(before))
}

func TestHandleUpdateRecordsTradeOutcomeOnFilledSell(t *testing.T) {
	r, pm, rs := newTestReconciler(t)
	token, err := pm.Reserve("BTC", types.Sell, decimal.NewFromInt(1000))
	require.NoError(t, err)

	r.Track("sell1", types.PendingOrder{ClientOrderID: "sell1", Symbol: "BTC", Side: types.Sell, EntryPrice: decimal.NewFromInt(100)}, token)

	r.HandleUpdate(types.OrderUpdate{
		ClientOrderID:  "sell1",
		Status:         types.OrderStatusFilled,
		FilledAvgPrice: decimal.NewFromInt(110),
		HasFillPrice:   true,
		Timestamp:      time.Now(),
	})

	require.Len(t, rs.calls, 1)
	require.True(t, rs.calls[0], "sell at a higher price than entry should record a win")
}

func TestHandleUpdateIgnoresUnknownClientOrderID(t *testing.T) {
	r, _, rs := newTestReconciler(t)
	r.HandleUpdate(types.OrderUpdate{ClientOrderID: "ghost", Status: types.OrderStatusFilled})
	require.Empty(t, rs.calls)
}

func TestReconcileReleasesSyncedBuy(t *testing.T) {
	r, pm, _ := newTestReconciler(t)
	token, err := pm.Reserve("BTC", types.Buy, decimal.NewFromInt(1000))
	require.NoError(t, err)
	r.Track("buy1", types.PendingOrder{ClientOrderID: "buy1", Symbol: "BTC", Side: types.Buy}, token)
	r.HandleUpdate(types.OrderUpdate{ClientOrderID: "buy1", Status: types.OrderStatusFilled, FilledAvgPrice: decimal.NewFromInt(100), HasFillPrice: true, Timestamp: time.Now()})

	positions := map[string]types.Position{"BTC": {Symbol: "BTC", Quantity: decimal.NewFromInt(1)}}
	r.Reconcile(time.Now(), positions)

	require.Zero(t, r.PendingExposure("BTC", types.Buy))
}

func TestReconcileForceCleansPastTTL(t *testing.T) {
	r, pm, _ := newTestReconciler(t)
	token, err := pm.Reserve("BTC", types.Buy, decimal.NewFromInt(1000))
	require.NoError(t, err)
	r.Track("buy1", types.PendingOrder{ClientOrderID: "buy1", Symbol: "BTC", Side: types.Buy, RequestedQty: decimal.NewFromInt(1)}, token)
	r.HandleUpdate(types.OrderUpdate{ClientOrderID: "buy1", Status: types.OrderStatusFilled, FilledAvgPrice: decimal.NewFromInt(100), HasFillPrice: true, Timestamp: time.Now().Add(-time.Hour)})

	// Position never appears (simulating a desync); past TTL it's force-cleaned.
	r.Reconcile(time.Now(), map[string]types.Position{})

	require.Zero(t, r.PendingExposure("BTC", types.Buy))
}

func TestPendingExposureSumsUnfilledQuantity(t *testing.T) {
	r, pm, _ := newTestReconciler(t)
	token, err := pm.Reserve("BTC", types.Buy, decimal.NewFromInt(1000))
	require.NoError(t, err)
	r.Track("buy1", types.PendingOrder{ClientOrderID: "buy1", Symbol: "BTC", Side: types.Buy, RequestedQty: decimal.NewFromInt(5), FilledQty: decimal.NewFromInt(2)}, token)

	require.True(t, r.PendingExposure("BTC", types.Buy).Equal(decimal.NewFromInt(3)))
}
