package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestApplyFillBuyThenSellRestoresStateModuloFees(t *testing.T) {
	m := New(d("100000"))

	_, err := m.ApplyFill("BTC", types.Buy, d("1"), d("100"), d("1"))
	require.NoError(t, err)

	snap := m.Snapshot(nil)
	require.True(t, snap.Portfolio.Cash.Equal(d("99899")))
	require.True(t, snap.Portfolio.Positions["BTC"].Quantity.Equal(d("1")))

	trade, err := m.ApplyFill("BTC", types.Sell, d("1"), d("100"), d("1"))
	require.NoError(t, err)
	require.True(t, trade.PnL.Equal(d("-1")))

	snap = m.Snapshot(nil)
	require.True(t, snap.Portfolio.Cash.Equal(d("99998")))
	_, hasPosition := snap.Portfolio.Positions["BTC"]
	require.False(t, hasPosition, "zero-quantity positions must not be retained")
}

func TestApplyFillWeightedAveragePrice(t *testing.T) {
	m := New(d("100000"))

	_, err := m.ApplyFill("ETH", types.Buy, d("10"), d("100"), d("0"))
	require.NoError(t, err)
	_, err = m.ApplyFill("ETH", types.Buy, d("10"), d("200"), d("0"))
	require.NoError(t, err)

	snap := m.Snapshot(nil)
	pos := snap.Portfolio.Positions["ETH"]
	require.True(t, pos.Quantity.Equal(d("20")))
	require.True(t, pos.AveragePrice.Equal(d("150")), "weighted average got %s", pos.AveragePrice)
}

func TestApplyFillOversellRejected(t *testing.T) {
	m := New(d("1000"))
	_, err := m.ApplyFill("BTC", types.Buy, d("1"), d("100"), d("0"))
	require.NoError(t, err)

	_, err = m.ApplyFill("BTC", types.Sell, d("2"), d("100"), d("0"))
	require.ErrorIs(t, err, ErrInconsistentState)
	require.True(t, m.Halted())
}

func TestReserveThenReleaseRestoresAvailableCashExactly(t *testing.T) {
	m := New(d("100000"))

	before := m.Snapshot(nil).AvailableCash
	token, err := m.Reserve("BTC", types.Buy, d("5000"))
	require.NoError(t, err)

	mid := m.Snapshot(nil).AvailableCash
	require.True(t, mid.Equal(before.Sub(d("5000"))))

	require.NoError(t, m.ReleaseReservation(token))
	after := m.Snapshot(nil).AvailableCash
	require.True(t, after.Equal(before))
}

func TestReleaseReservationIsIdempotent(t *testing.T) {
	m := New(d("100000"))
	token, err := m.Reserve("BTC", types.Buy, d("1000"))
	require.NoError(t, err)

	require.NoError(t, m.ReleaseReservation(token))
	require.NoError(t, m.ReleaseReservation(token)) // second release: no-op, no error
}

func TestReserveInsufficientFunds(t *testing.T) {
	m := New(d("100"))
	_, err := m.Reserve("BTC", types.Buy, d("1000"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestCashNeverNegative(t *testing.T) {
	m := New(d("50"))
	_, err := m.ApplyFill("BTC", types.Buy, d("1"), d("100"), d("0"))
	require.ErrorIs(t, err, ErrInconsistentState)
	require.True(t, m.Snapshot(nil).Portfolio.Cash.GreaterThanOrEqual(decimal.Zero))
}
