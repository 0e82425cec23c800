package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func testClient(baseURL string) *Client {
	return New(Config{APIKey: "key", APISecret: "secret", DataURL: baseURL, TradingURL: baseURL, HTTPTimeout: time.Second}, zap.NewNop())
}

func TestTradingWSURLDefaultsFromTradingURL(t *testing.T) {
	cfg := Config{TradingURL: "https://paper-api.alpaca.markets"}
	require.Equal(t, "wss://paper-api.alpaca.markets/stream", cfg.TradingWSURL())
}

func TestTradingWSURLUsesExplicitOverride(t *testing.T) {
	cfg := Config{TradingURL: "https://paper-api.alpaca.markets", TradeWSURL: "wss://custom/stream"}
	require.Equal(t, "wss://custom/stream", cfg.TradingWSURL())
}

func TestAlpacaTimeframeMapsKnownValues(t *testing.T) {
	require.Equal(t, "1Min", alpacaTimeframe(types.Timeframe1m))
	require.Equal(t, "5Min", alpacaTimeframe(types.Timeframe5m))
	require.Equal(t, "15Min", alpacaTimeframe(types.Timeframe15m))
	require.Equal(t, "1Hour", alpacaTimeframe(types.Timeframe1h))
	require.Equal(t, "4Hour", alpacaTimeframe(types.Timeframe4h))
	require.Equal(t, "1Day", alpacaTimeframe(types.Timeframe1d))
}

func TestAlpacaOrderTypeMapsKnownValues(t *testing.T) {
	require.Equal(t, "limit", alpacaOrderType(types.OrderTypeLimit))
	require.Equal(t, "stop", alpacaOrderType(types.OrderTypeStop))
	require.Equal(t, "stop_limit", alpacaOrderType(types.OrderTypeStopLimit))
	require.Equal(t, "market", alpacaOrderType(types.OrderTypeMarket))
}

func TestAlpacaEventToStatusMapsKnownEvents(t *testing.T) {
	require.Equal(t, types.OrderStatusFilled, alpacaEventToStatus("fill"))
	require.Equal(t, types.OrderStatusPartiallyFilled, alpacaEventToStatus("partial_fill"))
	require.Equal(t, types.OrderStatusCancelled, alpacaEventToStatus("canceled"))
	require.Equal(t, types.OrderStatusRejected, alpacaEventToStatus("rejected"))
	require.Equal(t, types.OrderStatusExpired, alpacaEventToStatus("expired"))
	require.Equal(t, types.OrderStatus(""), alpacaEventToStatus("new"))
}

func TestRateLimiterAcquireDoesNotBlockWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(5, time.Millisecond)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			rl.Acquire()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire blocked despite available capacity")
	}
}

func TestRateLimiterAcquireRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	rl.Acquire()
	start := time.Now()
	rl.Acquire()
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestHandleStreamMessageEmitsCandleEvent(t *testing.T) {
	c := testClient("http://example.invalid")
	raw, err := json.Marshal(barMessage{T: "b", S: "AAPL", O: 1, H: 2, L: 0.5, C: 1.5, V: 100, Ts: 1000})
	require.NoError(t, err)

	c.handleStreamMessage(raw)

	select {
	case event := <-c.events:
		require.Equal(t, types.MarketEventCandle, event.Kind)
		require.Equal(t, "AAPL", event.Symbol)
		require.True(t, event.Candle.Close.Equal(decimal.NewFromFloat(1.5)))
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestHandleStreamMessageIgnoresNonBarMessages(t *testing.T) {
	c := testClient("http://example.invalid")
	raw, err := json.Marshal(barMessage{T: "q", S: "AAPL"})
	require.NoError(t, err)

	c.handleStreamMessage(raw)

	select {
	case <-c.events:
		t.Fatal("non-bar message should not be forwarded")
	default:
	}
}

func TestHandleStreamMessageDropsWhenChannelFull(t *testing.T) {
	c := testClient("http://example.invalid")
	c.events = make(chan types.MarketEvent, 1)
	raw, err := json.Marshal(barMessage{T: "b", S: "AAPL", C: 1, Ts: 1})
	require.NoError(t, err)

	c.handleStreamMessage(raw)
	c.handleStreamMessage(raw)

	require.Len(t, c.events, 1, "second event should be dropped rather than block")
}

func TestGetTradableAssetsFiltersNonTradable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/assets", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"symbol": "AAPL", "tradable": true},
			{"symbol": "DELISTED", "tradable": false},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	symbols, err := c.GetTradableAssets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, symbols)
}

func TestGetPricesSkipsSymbolsThatFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/stocks/BAD/trades/latest" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"trade": map[string]interface{}{"p": 150.25}})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	prices, err := c.GetPrices(context.Background(), []string{"AAPL", "BAD"})
	require.NoError(t, err)
	require.True(t, prices["AAPL"].Equal(decimal.NewFromFloat(150.25)))
	_, hasBad := prices["BAD"]
	require.False(t, hasBad)
}

func TestGetHistoricalBarsDecodesCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"bars": []barMessage{{O: 1, H: 2, L: 0.5, C: 1.5, V: 10, Ts: 1000}},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	candles, err := c.GetHistoricalBars(context.Background(), "AAPL", time.Unix(0, 0), time.Unix(1, 0), types.Timeframe1d)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	require.Equal(t, "AAPL", candles[0].Symbol)
	require.True(t, candles[0].Close.Equal(decimal.NewFromFloat(1.5)))
}

func TestSubmitOrderReturnsClientOrderIDFromResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"client_order_id": "server-assigned"})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	order := types.Order{
		TradeProposal: types.TradeProposal{Symbol: "AAPL", Side: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeMarket},
		ClientOrderID: "client-assigned",
	}
	id, err := c.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, "server-assigned", id)
}

func TestSubmitOrderFallsBackToRequestedClientOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	order := types.Order{
		TradeProposal: types.TradeProposal{Symbol: "AAPL", Side: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeMarket},
		ClientOrderID: "client-assigned",
	}
	id, err := c.SubmitOrder(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, "client-assigned", id)
}

func TestSubmitOrderPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("insufficient buying power"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	order := types.Order{TradeProposal: types.TradeProposal{Symbol: "AAPL", Side: types.Buy, Quantity: decimal.NewFromInt(1), OrderType: types.OrderTypeMarket}}
	_, err := c.SubmitOrder(context.Background(), order)
	require.Error(t, err)
}

func TestCancelOrderSendsDeleteRequest(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		require.Equal(t, "abc123", r.URL.Query().Get("client_order_id"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	err := c.CancelOrder(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, http.MethodDelete, gotMethod)
}

func TestDoRESTSetsAuthHeaders(t *testing.T) {
	var gotKey, gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("APCA-API-KEY-ID")
		gotSecret = r.Header.Get("APCA-API-SECRET-KEY")
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	err := c.doREST(context.Background(), http.MethodGet, srv.URL+"/v2/account", nil, &struct{}{})
	require.NoError(t, err)
	require.Equal(t, "key", gotKey)
	require.Equal(t, "secret", gotSecret)
}
