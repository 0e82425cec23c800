// Package gateway implements the MarketGateway (§4.2): the singleton
// websocket connection to the broker's market data stream, fanning out
// MarketEvents to subscribers with bounded, drop-on-full broadcast and
// exponential-backoff reconnection.
//
// Grounded on the teacher's internal/data/market_data.go
// (connectBinance/readLoop/reconnectMonitor, callback-setter pattern) and
// internal/events/event_bus.go's bounded-broadcast idiom — adapted rather
// than reused verbatim, since the teacher's event bus has a duplicate
// generateEventID declaration and couples broadcast to a concrete struct
// instead of the broker.Broker port this engine depends on.
package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/broker"
	"github.com/atlas-desktop/trading-engine/internal/connhealth"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Config configures reconnection and fan-out behavior (§5).
type Config struct {
	BroadcastCapacity int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
}

// Gateway owns the single upstream broker subscription and fans events out
// to bounded per-subscriber channels. A slow subscriber lags and drops; the
// producer never blocks (§5 MarketGateway → subscribers policy).
type Gateway struct {
	cfg    Config
	broker broker.Broker
	health *connhealth.Service
	logger *zap.Logger

	mu          sync.RWMutex
	symbols     map[string]struct{}
	subscribers []chan types.MarketEvent
}

// New builds a MarketGateway over a broker connection.
func New(cfg Config, b broker.Broker, health *connhealth.Service, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		broker:  b,
		health:  health,
		logger:  logger.Named("gateway"),
		symbols: make(map[string]struct{}),
	}
}

// Subscribe returns a new bounded channel receiving every MarketEvent the
// gateway forwards. Call before Run to avoid missing early events.
func (g *Gateway) Subscribe() <-chan types.MarketEvent {
	ch := make(chan types.MarketEvent, g.cfg.BroadcastCapacity)
	g.mu.Lock()
	g.subscribers = append(g.subscribers, ch)
	g.mu.Unlock()
	return ch
}

// UpdateSymbols changes the subscribed symbol set without tearing down the
// connection (§4.2).
func (g *Gateway) UpdateSymbols(ctx context.Context, symbols []string) error {
	g.mu.Lock()
	g.symbols = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		g.symbols[s] = struct{}{}
	}
	g.mu.Unlock()
	return g.broker.UpdateSymbols(ctx, symbols)
}

// ForceResubscribe re-establishes the upstream subscription from scratch,
// used by the Sentinel after prolonged staleness (§4.11). A broker with its
// own ForceResubscribe (such as the Alpaca adapter) tears down and reopens
// its stream; any other broker is sent the current symbol set again.
func (g *Gateway) ForceResubscribe(ctx context.Context) error {
	if r, ok := g.broker.(interface {
		ForceResubscribe(context.Context) error
	}); ok {
		return r.ForceResubscribe(ctx)
	}
	g.mu.RLock()
	symbols := g.symbolList()
	g.mu.RUnlock()
	return g.broker.UpdateSymbols(ctx, symbols)
}

func (g *Gateway) symbolList() []string {
	out := make([]string, 0, len(g.symbols))
	for s := range g.symbols {
		out = append(out, s)
	}
	return out
}

// Run connects, consumes the broker's event stream, and fans each event
// out to every subscriber; on stream failure it reconnects with
// exponential backoff capped at ReconnectMax (§4.2), until ctx is
// cancelled.
func (g *Gateway) Run(ctx context.Context) {
	backoff := g.cfg.ReconnectBase

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		symbols := g.currentSymbols()
		events, err := g.broker.Subscribe(ctx, symbols)
		if err != nil {
			g.logger.Error("subscribe failed, backing off", zap.Error(err), zap.Duration("backoff", backoff))
			g.health.MarkOffline()
			if !g.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, g.cfg.ReconnectMax)
			continue
		}

		backoff = g.cfg.ReconnectBase
		g.health.RecordHeartbeat(time.Now())
		g.consume(ctx, events)

		select {
		case <-ctx.Done():
			return
		default:
		}
		g.logger.Warn("event stream closed, reconnecting")
		g.health.MarkOffline()
		if !g.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, g.cfg.ReconnectMax)
	}
}

func (g *Gateway) currentSymbols() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.symbolList()
}

func (g *Gateway) consume(ctx context.Context, events <-chan types.MarketEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			g.health.RecordHeartbeat(time.Now())
			g.broadcast(e)
		}
	}
}

// broadcast fans e out to every subscriber without blocking the producer:
// a full subscriber channel drops the event rather than stalling the feed.
func (g *Gateway) broadcast(e types.MarketEvent) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ch := range g.subscribers {
		select {
		case ch <- e:
		default:
			g.logger.Warn("subscriber lagging, dropping event", zap.String("symbol", e.Symbol))
		}
	}
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
