// Package alpaca is the concrete broker.Broker implementation backing
// production runs of cmd/engine: Alpaca's REST trading API plus its
// websocket market-data stream.
//
// Grounded on the teacher's internal/execution/adapters/binance.go shape
// (token-bucket RateLimiter, key-header signed REST calls, websocket
// read-loop-plus-callback) — translated from Binance's HMAC-signed,
// symbol-stream REST/WS surface onto Alpaca's header-authenticated one,
// and onto pkg/types (MarketEvent/Candle/Order/OrderUpdate) instead of the
// teacher's own Binance-shaped structs.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Config configures REST and websocket endpoints plus credentials (§6
// market configuration surface).
type Config struct {
	APIKey      string
	APISecret   string
	DataURL     string
	TradingURL  string
	WSURL       string
	TradeWSURL  string // trade-updates stream; defaults to TradingURL with wss://.../stream
	HTTPTimeout time.Duration

	// HeartbeatInterval/HeartbeatTimeout drive the market-data socket's
	// ping/pong liveness check (§4.2 step 5). Zero values fall back to
	// 20s/5s.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// TradingWSURL returns the trade-updates websocket endpoint, defaulting to
// the trading REST host's "/stream" path when TradeWSURL isn't set.
func (c Config) TradingWSURL() string {
	if c.TradeWSURL != "" {
		return c.TradeWSURL
	}
	url := strings.Replace(c.TradingURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/stream"
}

// RateLimiter is a token-bucket limiter guarding REST call volume.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter builds a limiter with maxTokens capacity refilling one
// token every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{tokens: maxTokens, maxTokens: maxTokens, refillRate: refillRate, lastRefill: time.Now()}
}

// Acquire blocks until a token is available.
func (rl *RateLimiter) Acquire() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillRate); refills > 0 {
		rl.tokens = minInt(rl.maxTokens, rl.tokens+refills)
		rl.lastRefill = now
	}
	for rl.tokens <= 0 {
		rl.mu.Unlock()
		time.Sleep(rl.refillRate)
		rl.mu.Lock()
		rl.tokens++
	}
	rl.tokens--
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Client implements broker.Broker against Alpaca's REST and streaming API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *zap.Logger

	mu          sync.RWMutex
	wsConn      *websocket.Conn
	wsConnected bool
	subscribed  map[string]struct{}
	events      chan types.MarketEvent

	orderUpdates chan types.OrderUpdate
}

// New builds a Client. No connection is opened here: Subscribe dials the
// market-data websocket on first use, and OrderUpdates dials its own
// trade-updates stream.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 5 * time.Second
	}
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:      NewRateLimiter(180, time.Minute/180),
		logger:       logger.Named("broker.alpaca"),
		subscribed:   make(map[string]struct{}),
		events:       make(chan types.MarketEvent, 1000),
		orderUpdates: make(chan types.OrderUpdate, 100),
	}
}

// Connected reports whether the market-data websocket is live.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wsConnected
}

// Subscribe opens the websocket (if not already open) and subscribes to
// bar/quote updates for symbols, returning the shared event channel.
func (c *Client) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketEvent, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if err := c.UpdateSymbols(ctx, symbols); err != nil {
		return nil, err
	}
	return c.events, nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConnected {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("alpaca: websocket dial: %w", err)
	}
	auth := map[string]string{"action": "auth", "key": c.cfg.APIKey, "secret": c.cfg.APISecret}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("alpaca: websocket auth: %w", err)
	}

	c.wsConn = conn
	c.wsConnected = true
	c.armHeartbeat(conn)
	go c.readLoop(conn)
	return nil
}

// armHeartbeat wires the read deadline, pong handler and ping sender that
// together detect a dead market-data socket (§4.2 step 5): ping every
// HeartbeatInterval, and treat the connection as dead if no pong arrives
// within HeartbeatInterval+HeartbeatTimeout of the last one. Only pongs
// renew the read deadline; data frames do not.
func (c *Client) armHeartbeat(conn *websocket.Conn) {
	deadline := c.cfg.HeartbeatInterval + c.cfg.HeartbeatTimeout
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	go c.pingLoop(conn)
}

// pingLoop sends a websocket ping every HeartbeatInterval until the
// connection is replaced or a write fails, at which point it closes conn so
// readLoop unwinds and Sentinel's staleness check drives a reconnect.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		current := c.wsConn == conn && c.wsConnected
		c.mu.RUnlock()
		if !current {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.HeartbeatTimeout)); err != nil {
			c.logger.Warn("alpaca websocket ping failed, closing for reconnect", zap.Error(err))
			conn.Close()
			return
		}
	}
}

// UpdateSymbols changes the subscribed symbol set on the live connection
// (§4.2 step 3: no connection teardown).
func (c *Client) UpdateSymbols(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return fmt.Errorf("alpaca: not connected")
	}

	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}

	var toAdd, toRemove []string
	for s := range next {
		if _, ok := c.subscribed[s]; !ok {
			toAdd = append(toAdd, s)
		}
	}
	for s := range c.subscribed {
		if _, ok := next[s]; !ok {
			toRemove = append(toRemove, s)
		}
	}

	if len(toAdd) > 0 {
		if err := c.wsConn.WriteJSON(map[string]interface{}{"action": "subscribe", "bars": toAdd}); err != nil {
			return fmt.Errorf("alpaca: subscribe: %w", err)
		}
	}
	if len(toRemove) > 0 {
		if err := c.wsConn.WriteJSON(map[string]interface{}{"action": "unsubscribe", "bars": toRemove}); err != nil {
			return fmt.Errorf("alpaca: unsubscribe: %w", err)
		}
	}
	c.subscribed = next
	return nil
}

// ForceResubscribe tears down and reopens the websocket, resubscribing to
// every currently-tracked symbol (used by Sentinel after prolonged
// staleness, §4.11).
func (c *Client) ForceResubscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.wsConn != nil {
		c.wsConn.Close()
	}
	c.wsConnected = false
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	c.subscribed = make(map[string]struct{})
	c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	return c.UpdateSymbols(ctx, symbols)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.wsConnected = false
		c.mu.Unlock()
	}()

	for {
		var raw []json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			c.logger.Warn("alpaca websocket read error, stream closing", zap.Error(err))
			return
		}
		for _, msg := range raw {
			c.handleStreamMessage(msg)
		}
	}
}

type barMessage struct {
	T string  `json:"T"`
	S string  `json:"S"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	Ts int64  `json:"t"`
}

func (c *Client) handleStreamMessage(raw json.RawMessage) {
	var bar barMessage
	if err := json.Unmarshal(raw, &bar); err != nil {
		return
	}
	if bar.T != "b" {
		return
	}
	candle := types.Candle{
		Symbol:      bar.S,
		Open:        decimal.NewFromFloat(bar.O),
		High:        decimal.NewFromFloat(bar.H),
		Low:         decimal.NewFromFloat(bar.L),
		Close:       decimal.NewFromFloat(bar.C),
		Volume:      decimal.NewFromFloat(bar.V),
		TimestampMs: bar.Ts,
	}
	event := types.MarketEvent{Kind: types.MarketEventCandle, Symbol: bar.S, Candle: candle}
	select {
	case c.events <- event:
	default:
		c.logger.Warn("alpaca event channel full, dropping bar", zap.String("symbol", bar.S))
	}
}

// GetTradableAssets lists tradable symbols from Alpaca's assets endpoint.
func (c *Client) GetTradableAssets(ctx context.Context) ([]string, error) {
	var assets []struct {
		Symbol   string `json:"symbol"`
		Tradable bool   `json:"tradable"`
	}
	if err := c.doREST(ctx, http.MethodGet, c.cfg.TradingURL+"/v2/assets", nil, &assets); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.Tradable {
			symbols = append(symbols, a.Symbol)
		}
	}
	return symbols, nil
}

// GetTopMovers returns the market's top-moving tradable symbols.
func (c *Client) GetTopMovers(ctx context.Context) ([]string, error) {
	var movers struct {
		Gainers []struct {
			Symbol string `json:"symbol"`
		} `json:"gainers"`
	}
	if err := c.doREST(ctx, http.MethodGet, c.cfg.DataURL+"/v1beta1/screener/stocks/movers", nil, &movers); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(movers.Gainers))
	for _, g := range movers.Gainers {
		symbols = append(symbols, g.Symbol)
	}
	return symbols, nil
}

// GetPrices fetches the latest trade price for each symbol.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		var resp struct {
			Trade struct {
				Price float64 `json:"p"`
			} `json:"trade"`
		}
		path := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.cfg.DataURL, url.PathEscape(symbol))
		if err := c.doREST(ctx, http.MethodGet, path, nil, &resp); err != nil {
			c.logger.Warn("failed to fetch latest price", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		prices[symbol] = decimal.NewFromFloat(resp.Trade.Price)
	}
	return prices, nil
}

// GetHistoricalBars fetches OHLCV bars for symbol over [start, end).
func (c *Client) GetHistoricalBars(ctx context.Context, symbol string, start, end time.Time, tf types.Timeframe) ([]types.Candle, error) {
	var resp struct {
		Bars []barMessage `json:"bars"`
	}
	q := url.Values{}
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	q.Set("timeframe", alpacaTimeframe(tf))
	path := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.cfg.DataURL, url.PathEscape(symbol), q.Encode())

	if err := c.doREST(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		candles = append(candles, types.Candle{
			Symbol:      symbol,
			Open:        decimal.NewFromFloat(b.O),
			High:        decimal.NewFromFloat(b.H),
			Low:         decimal.NewFromFloat(b.L),
			Close:       decimal.NewFromFloat(b.C),
			Volume:      decimal.NewFromFloat(b.V),
			TimestampMs: b.Ts,
		})
	}
	return candles, nil
}

func alpacaTimeframe(tf types.Timeframe) string {
	switch tf {
	case types.Timeframe1m:
		return "1Min"
	case types.Timeframe5m:
		return "5Min"
	case types.Timeframe15m:
		return "15Min"
	case types.Timeframe1h:
		return "1Hour"
	case types.Timeframe4h:
		return "4Hour"
	case types.Timeframe1d:
		return "1Day"
	default:
		return "1Min"
	}
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

// SubmitOrder places order against Alpaca's trading REST API.
func (c *Client) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	req := orderRequest{
		Symbol:        order.Symbol,
		Qty:           order.Quantity.String(),
		Side:          string(order.Side),
		Type:          alpacaOrderType(order.OrderType),
		TimeInForce:   "day",
		ClientOrderID: order.ClientOrderID,
	}
	if order.OrderType == types.OrderTypeLimit || order.OrderType == types.OrderTypeStopLimit {
		req.LimitPrice = order.Price.String()
	}

	var resp struct {
		ClientOrderID string `json:"client_order_id"`
	}
	if err := c.doREST(ctx, http.MethodPost, c.cfg.TradingURL+"/v2/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.ClientOrderID == "" {
		return order.ClientOrderID, nil
	}
	return resp.ClientOrderID, nil
}

func alpacaOrderType(t types.OrderType) string {
	switch t {
	case types.OrderTypeLimit:
		return "limit"
	case types.OrderTypeStop:
		return "stop"
	case types.OrderTypeStopLimit:
		return "stop_limit"
	default:
		return "market"
	}
}

// CancelOrder cancels an open order by client order ID.
func (c *Client) CancelOrder(ctx context.Context, clientOrderID string) error {
	path := fmt.Sprintf("%s/v2/orders:by_client_order_id?client_order_id=%s", c.cfg.TradingURL, url.QueryEscape(clientOrderID))
	return c.doREST(ctx, http.MethodDelete, path, nil, nil)
}

// OrderUpdates opens Alpaca's trade-updates websocket (a stream distinct
// from the market-data one) and returns the channel it populates for the
// process lifetime.
func (c *Client) OrderUpdates(ctx context.Context) (<-chan types.OrderUpdate, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.TradingWSURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("alpaca: trade updates dial: %w", err)
	}
	auth := map[string]string{"action": "auth", "key": c.cfg.APIKey, "secret": c.cfg.APISecret}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("alpaca: trade updates auth: %w", err)
	}
	listen := map[string]interface{}{"action": "listen", "data": map[string][]string{"streams": {"trade_updates"}}}
	if err := conn.WriteJSON(listen); err != nil {
		conn.Close()
		return nil, fmt.Errorf("alpaca: trade updates subscribe: %w", err)
	}

	go c.readOrderUpdates(conn)
	return c.orderUpdates, nil
}

type tradeUpdateMessage struct {
	Data struct {
		Event string `json:"event"`
		Order struct {
			ClientOrderID   string `json:"client_order_id"`
			Symbol          string `json:"symbol"`
			Side            string `json:"side"`
			FilledQty       string `json:"filled_qty"`
			FilledAvgPrice  string `json:"filled_avg_price"`
		} `json:"order"`
	} `json:"data"`
}

func (c *Client) readOrderUpdates(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var msg tradeUpdateMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Warn("alpaca trade updates stream closed", zap.Error(err))
			return
		}

		status := alpacaEventToStatus(msg.Data.Event)
		if status == "" {
			continue
		}
		filledQty, _ := decimal.NewFromString(msg.Data.Order.FilledQty)
		hasFillPrice := msg.Data.Order.FilledAvgPrice != ""
		filledAvgPrice, _ := decimal.NewFromString(msg.Data.Order.FilledAvgPrice)

		update := types.OrderUpdate{
			ClientOrderID:  msg.Data.Order.ClientOrderID,
			Symbol:         msg.Data.Order.Symbol,
			Side:           types.Side(msg.Data.Order.Side),
			Status:         status,
			FilledQty:      filledQty,
			FilledAvgPrice: filledAvgPrice,
			HasFillPrice:   hasFillPrice,
			Timestamp:      time.Now(),
		}
		select {
		case c.orderUpdates <- update:
		default:
			c.logger.Warn("alpaca order update channel full, dropping update", zap.String("client_order_id", update.ClientOrderID))
		}
	}
}

func alpacaEventToStatus(event string) types.OrderStatus {
	switch event {
	case "fill":
		return types.OrderStatusFilled
	case "partial_fill":
		return types.OrderStatusPartiallyFilled
	case "canceled":
		return types.OrderStatusCancelled
	case "rejected":
		return types.OrderStatusRejected
	case "expired":
		return types.OrderStatusExpired
	default:
		return ""
	}
}

func (c *Client) doREST(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	c.limiter.Acquire()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("alpaca: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
