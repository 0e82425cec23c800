// Package api exposes the engine's read-only surface: a WebSocket hub
// broadcasting order/position/trade/signal/risk/pnl events to dashboard
// clients, plus REST endpoints for health, metrics, and recent activity.
//
// The Hub/Client pair is adapted from the teacher's internal/api/websocket.go
// near-verbatim in shape (register/unregister/broadcast select loop,
// per-channel subscription maps, ping/pong keepalive) but rewired from the
// teacher's own order/position types onto pkg/types, and extended with an
// activity ring buffer the teacher's hub didn't keep.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// MessageType tags the payload carried by a WSMessage.
type MessageType string

const (
	MsgTypeOrderUpdate    MessageType = "order_update"
	MsgTypePositionUpdate MessageType = "position_update"
	MsgTypeTradeUpdate    MessageType = "trade_update"
	MsgTypeSignalUpdate   MessageType = "signal_update"
	MsgTypeRiskAlert      MessageType = "risk_alert"
	MsgTypePnLUpdate      MessageType = "pnl_update"
	MsgTypeError          MessageType = "error"
	MsgTypeHeartbeat      MessageType = "heartbeat"

	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the envelope sent over the wire.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SignalEvent pairs a strategy Signal with the symbol it fired on; Signal
// itself carries no symbol (§3 — it's pure strategy output).
type SignalEvent struct {
	Symbol string      `json:"symbol"`
	Signal types.Signal `json:"signal"`
}

// RiskAlert reports a RiskPipeline rejection or circuit-breaker trip to
// subscribers.
type RiskAlert struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// PnLUpdate reports live unrealized/realized equity movement.
type PnLUpdate struct {
	Equity        string `json:"equity"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
}

// Client is one connected dashboard websocket.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans out broadcast and per-channel messages to connected clients, and
// keeps a bounded activity log for the REST /activity endpoint.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex

	activityMu  sync.RWMutex
	activity    []ActivityEntry
	activityCap int
}

// ActivityEntry is one entry in the bounded recent-activity log.
type ActivityEntry struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// NewHub builds a Hub. Call Run in its own goroutine before use.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger.Named("api"),
		clients:     make(map[*Client]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		channels:    make(map[string]map[*Client]bool),
		activityCap: 200,
	}
}

// Run drives the Hub's register/unregister/broadcast/heartbeat loop until
// the process exits; there is no cancellation path, matching the teacher's
// long-lived hub goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("id", client.id))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) sendHeartbeat() {
	msg := WSMessage{Type: MsgTypeHeartbeat, Timestamp: time.Now().UnixMilli()}
	data, _ := json.Marshal(msg)
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribe adds client to channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe removes client from channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

func (h *Hub) publishToChannel(channel string, msgType MessageType, data interface{}) {
	h.recordActivity(msgType, data)
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal message data", zap.Error(err))
		return
	}
	msg := WSMessage{Type: msgType, Channel: channel, Data: dataBytes, Timestamp: time.Now().UnixMilli()}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.channels[channel]; ok {
		for client := range clients {
			select {
			case client.send <- msgBytes:
			default:
			}
		}
	}
}

func (h *Hub) broadcastAll(msgType MessageType, data interface{}) {
	h.recordActivity(msgType, data)
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal broadcast data", zap.Error(err))
		return
	}
	msg := WSMessage{Type: msgType, Data: dataBytes, Timestamp: time.Now().UnixMilli()}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) recordActivity(msgType MessageType, data interface{}) {
	h.activityMu.Lock()
	defer h.activityMu.Unlock()
	h.activity = append(h.activity, ActivityEntry{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
	if len(h.activity) > h.activityCap {
		h.activity = h.activity[len(h.activity)-h.activityCap:]
	}
}

// RecentActivity returns up to limit of the most recent events, newest last.
func (h *Hub) RecentActivity(limit int) []ActivityEntry {
	h.activityMu.RLock()
	defer h.activityMu.RUnlock()
	if limit <= 0 || limit > len(h.activity) {
		limit = len(h.activity)
	}
	out := make([]ActivityEntry, limit)
	copy(out, h.activity[len(h.activity)-limit:])
	return out
}

// BroadcastOrderUpdate broadcasts an order status change (§4.9).
func (h *Hub) BroadcastOrderUpdate(update types.OrderUpdate) {
	h.publishToChannel("orders", MsgTypeOrderUpdate, update)
	h.publishToChannel("orders:"+update.Symbol, MsgTypeOrderUpdate, update)
}

// BroadcastPositionUpdate broadcasts a position change.
func (h *Hub) BroadcastPositionUpdate(position types.Position) {
	h.publishToChannel("positions", MsgTypePositionUpdate, position)
	h.publishToChannel("positions:"+position.Symbol, MsgTypePositionUpdate, position)
}

// BroadcastTradeUpdate broadcasts a closed trade.
func (h *Hub) BroadcastTradeUpdate(trade types.Trade) {
	h.publishToChannel("trades", MsgTypeTradeUpdate, trade)
	h.publishToChannel("trades:"+trade.Symbol, MsgTypeTradeUpdate, trade)
}

// BroadcastSignalUpdate broadcasts a strategy signal.
func (h *Hub) BroadcastSignalUpdate(event SignalEvent) {
	h.publishToChannel("signals", MsgTypeSignalUpdate, event)
	h.publishToChannel("signals:"+event.Symbol, MsgTypeSignalUpdate, event)
}

// BroadcastRiskAlert broadcasts a risk-pipeline rejection or circuit trip.
func (h *Hub) BroadcastRiskAlert(alert RiskAlert) {
	h.broadcastAll(MsgTypeRiskAlert, alert)
}

// BroadcastPnLUpdate broadcasts an equity/PnL snapshot.
func (h *Hub) BroadcastPnLUpdate(update PnLUpdate) {
	h.publishToChannel("pnl", MsgTypePnLUpdate, update)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient wraps an upgraded websocket connection.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump pumps inbound subscribe/unsubscribe messages until the
// connection closes, then deregisters from the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("invalid websocket message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		}
	}
}

// WritePump pumps outbound messages (and ping keepalives) to the
// connection until send closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Register hands the client to the hub's run loop.
func (h *Hub) Register(c *Client) { h.register <- c }
