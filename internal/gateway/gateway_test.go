package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/connhealth"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

type fakeBroker struct {
	mu          sync.Mutex
	events      chan types.MarketEvent
	subscribeErr error
	subscribes  int32
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{events: make(chan types.MarketEvent, 10)}
}

func (f *fakeBroker) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error) {
	atomic.AddInt32(&f.subscribes, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.events, nil
}
func (f *fakeBroker) UpdateSymbols(ctx context.Context, symbols []string) error { return nil }
func (f *fakeBroker) GetTradableAssets(ctx context.Context) ([]string, error)   { return nil, nil }
func (f *fakeBroker) GetTopMovers(ctx context.Context) ([]string, error)        { return nil, nil }
func (f *fakeBroker) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (f *fakeBroker) GetHistoricalBars(ctx context.Context, symbol string, start, end time.Time, tf types.Timeframe) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeBroker) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	return "", nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, clientOrderID string) error { return nil }
func (f *fakeBroker) OrderUpdates(ctx context.Context) (<-chan types.OrderUpdate, error) {
	return nil, nil
}
func (f *fakeBroker) Connected() bool { return true }

func TestGatewayBroadcastsToAllSubscribers(t *testing.T) {
	b := newFakeBroker()
	g := New(Config{BroadcastCapacity: 10, ReconnectBase: time.Millisecond, ReconnectMax: 10 * time.Millisecond}, b, connhealth.New(), zap.NewNop())

	sub1 := g.Subscribe()
	sub2 := g.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&b.subscribes) > 0 }, time.Second, time.Millisecond)
	b.events <- types.MarketEvent{Symbol: "BTC", Kind: types.MarketEventQuote}

	for _, ch := range []<-chan types.MarketEvent{sub1, sub2} {
		select {
		case e := <-ch:
			require.Equal(t, "BTC", e.Symbol)
		case <-time.After(time.Second):
			t.Fatal("expected broadcast to every subscriber")
		}
	}
}

func TestGatewayDropsOnFullSubscriberRatherThanBlocking(t *testing.T) {
	b := newFakeBroker()
	g := New(Config{BroadcastCapacity: 1, ReconnectBase: time.Millisecond, ReconnectMax: 10 * time.Millisecond}, b, connhealth.New(), zap.NewNop())

	slow := g.Subscribe() // capacity 1, never drained

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&b.subscribes) > 0 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		b.events <- types.MarketEvent{Symbol: "BTC"}
	}
	time.Sleep(50 * time.Millisecond) // producer must not have blocked

	require.Len(t, slow, 1)
}

func TestGatewayRetriesWithBackoffOnSubscribeFailure(t *testing.T) {
	b := newFakeBroker()
	b.subscribeErr = errors.New("connection refused")
	health := connhealth.New()
	g := New(Config{BroadcastCapacity: 10, ReconnectBase: time.Millisecond, ReconnectMax: 5 * time.Millisecond}, b, health, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&b.subscribes) >= 2 }, time.Second, time.Millisecond)
	require.False(t, health.Snapshot().Online)
}
