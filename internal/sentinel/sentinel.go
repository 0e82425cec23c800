// Package sentinel implements the Sentinel (§4.11): the single subscriber
// to the MarketGateway, responsible for heartbeat/staleness detection,
// forced re-subscription, and forwarding validated events downstream to
// the Analyst.
//
// Grounded on the teacher's internal/data/market_data.go
// reconnectMonitor/Subscribe idiom, adapted from a single-exchange
// websocket owner into a pure event-forwarding supervisor that treats the
// MarketGateway as its upstream dependency rather than owning the socket
// itself.
package sentinel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/internal/connhealth"
	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Gateway is the narrow capability Sentinel needs from the MarketGateway.
type Gateway interface {
	Subscribe() <-chan types.MarketEvent
	ForceResubscribe(ctx context.Context) error
	UpdateSymbols(ctx context.Context, symbols []string) error
}

// Validator checks an inbound event before it is forwarded; the
// StrictEventValidator named in §4.11.
type Validator interface {
	Valid(types.MarketEvent) bool
}

// CandleValidator rejects events carrying an invalid candle (§3 OHLCV
// invariant); quote and subscription events always pass.
type CandleValidator struct{}

func (CandleValidator) Valid(e types.MarketEvent) bool {
	if e.Kind == types.MarketEventCandle {
		return e.Candle.Valid()
	}
	return true
}

// Config configures Sentinel's staleness thresholds (§4.11).
type Config struct {
	Tick            time.Duration
	StaleThreshold  time.Duration
	HealThreshold   time.Duration
}

// Sentinel owns the single MarketGateway subscription.
type Sentinel struct {
	cfg       Config
	gateway   Gateway
	validator Validator
	health    *connhealth.Service
	logger    *zap.Logger

	events <-chan types.MarketEvent
	Out    chan types.MarketEvent
}

// New builds a Sentinel forwarding validated events onto a channel sized
// per §5 (Sentinel → Analyst, capacity ≥ 100). Sentinel is the gateway's
// single subscriber, so it subscribes once here rather than per-Run call.
func New(cfg Config, gateway Gateway, validator Validator, health *connhealth.Service, outCapacity int, logger *zap.Logger) *Sentinel {
	if validator == nil {
		validator = CandleValidator{}
	}
	return &Sentinel{
		cfg:       cfg,
		gateway:   gateway,
		validator: validator,
		health:    health,
		logger:    logger.Named("sentinel"),
		events:    gateway.Subscribe(),
		Out:       make(chan types.MarketEvent, outCapacity),
	}
}

// Run consumes the gateway's event stream, validates and forwards events,
// and drives the staleness/re-subscription tick until ctx is cancelled
// (cooperative shutdown per §5).
func (s *Sentinel) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	lastEvent := time.Now()
	var lastHeal time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.events:
			if !ok {
				return
			}
			lastEvent = time.Now()
			s.health.RecordHeartbeat(lastEvent)
			if !s.validator.Valid(e) {
				s.logger.Warn("dropped invalid market event", zap.String("symbol", e.Symbol))
				continue
			}
			select {
			case s.Out <- e:
			case <-ctx.Done():
				return
			}
		case now := <-ticker.C:
			s.checkStaleness(ctx, now, lastEvent, &lastHeal)
		}
	}
}

// checkStaleness resubscribes as soon as the stream has been quiet past
// StaleThreshold, then gates every further attempt on HealThreshold so a
// broker that stays down doesn't get hammered with resubscribe calls every
// tick.
func (s *Sentinel) checkStaleness(ctx context.Context, now, lastEvent time.Time, lastHeal *time.Time) {
	if now.Sub(lastEvent) <= s.cfg.StaleThreshold {
		return
	}
	s.health.MarkOffline()

	if !lastHeal.IsZero() && now.Sub(*lastHeal) <= s.cfg.HealThreshold {
		return
	}

	s.logger.Warn("forcing re-subscription after prolonged staleness")
	if err := s.gateway.ForceResubscribe(ctx); err != nil {
		s.logger.Error("forced re-subscription failed", zap.Error(err))
	}
	s.health.RecordHeal(now)
	*lastHeal = now
}

// UpdateSymbols forwards a symbol-set change to the gateway (Sentinel
// command surface, §4.11).
func (s *Sentinel) UpdateSymbols(ctx context.Context, symbols []string) error {
	return s.gateway.UpdateSymbols(ctx, symbols)
}
