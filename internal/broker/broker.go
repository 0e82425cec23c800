// Package broker defines the port the trading pipeline depends on for
// market data and order execution. No concrete exchange adapter lives
// here; implementations (Alpaca, Binance, ...) are external collaborators
// per the specification's out-of-scope boundary.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Broker is the capability set the pipeline consumes (§6).
type Broker interface {
	// Subscribe opens (or reuses) the live market-data stream for symbols.
	Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error)

	// UpdateSymbols changes the subscribed set without tearing down the
	// underlying connection (§4.2 step 3).
	UpdateSymbols(ctx context.Context, symbols []string) error

	GetTradableAssets(ctx context.Context) ([]string, error)
	GetTopMovers(ctx context.Context) ([]string, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	GetHistoricalBars(ctx context.Context, symbol string, start, end time.Time, tf types.Timeframe) ([]types.Candle, error)

	SubmitOrder(ctx context.Context, order types.Order) (clientOrderID string, err error)
	CancelOrder(ctx context.Context, clientOrderID string) error

	// OrderUpdates returns the broker's fill/status event stream.
	OrderUpdates(ctx context.Context) (<-chan types.OrderUpdate, error)

	// Connected reports whether the underlying transport is currently live.
	Connected() bool
}

// ErrAuthFailed is returned by Subscribe/SubmitOrder when the broker
// rejects credentials; per §7 this is fatal for the current attempt and
// triggers backoff+retry rather than being surfaced as a startup error.
type ErrAuthFailed struct{ Err error }

func (e *ErrAuthFailed) Error() string { return "broker: authentication failed: " + e.Err.Error() }
func (e *ErrAuthFailed) Unwrap() error { return e.Err }
