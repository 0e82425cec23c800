// Package throttler implements the OrderThrottler (§4.7): a sliding-window
// FIFO rate limiter sitting between the RiskPipeline and the Broker. No
// proposal is ever dropped; excess proposals wait for window capacity.
//
// Grounded on the teacher's internal/workers/pool.go bounded-queue/ticker
// idiom (context cancellation, atomic running flag, periodic goroutine);
// FIFO sliding-window semantics resolved from
// original_source/src/risk_management/order_throttler.rs where the teacher
// has no rate limiter.
package throttler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

// Config configures the sliding window.
type Config struct {
	MaxOrdersPerWindow int
	WindowDuration     time.Duration
	DrainTick          time.Duration
}

// Throttler buffers an unbounded FIFO queue of approved TradeProposals and
// releases them onto Out at a rate capped by MaxOrdersPerWindow per
// WindowDuration. It never drops: callers observe backpressure via In
// filling up, never via silent loss.
type Throttler struct {
	cfg    Config
	logger *zap.Logger

	In  chan types.TradeProposal
	Out chan types.TradeProposal

	mu        sync.Mutex
	queue     []types.TradeProposal
	sentTimes []time.Time
}

// New builds a Throttler. outCapacity sizes the channel to the Broker.
func New(cfg Config, inCapacity, outCapacity int, logger *zap.Logger) *Throttler {
	return &Throttler{
		cfg:    cfg,
		logger: logger.Named("throttler"),
		In:     make(chan types.TradeProposal, inCapacity),
		Out:    make(chan types.TradeProposal, outCapacity),
	}
}

// Run drains In into the internal FIFO and releases queued proposals onto
// Out as the sliding window permits, until ctx is cancelled.
func (t *Throttler) Run(ctx context.Context) {
	drainTick := t.cfg.DrainTick
	if drainTick <= 0 {
		drainTick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(drainTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-t.In:
			t.mu.Lock()
			t.queue = append(t.queue, p)
			t.mu.Unlock()
		case <-ticker.C:
			t.drain(ctx)
		}
	}
}

func (t *Throttler) drain(ctx context.Context) {
	t.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-t.cfg.WindowDuration)
	kept := t.sentTimes[:0]
	for _, ts := range t.sentTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.sentTimes = kept

	available := t.cfg.MaxOrdersPerWindow - len(t.sentTimes)
	var releasing []types.TradeProposal
	for available > 0 && len(t.queue) > 0 {
		releasing = append(releasing, t.queue[0])
		t.queue = t.queue[1:]
		t.sentTimes = append(t.sentTimes, now)
		available--
	}
	remaining := len(t.queue)
	t.mu.Unlock()

	if remaining > 0 {
		t.logger.Debug("throttler window full, proposals queued", zap.Int("queued", remaining))
	}

	for _, p := range releasing {
		select {
		case t.Out <- p:
		case <-ctx.Done():
			return
		}
	}
}

// QueueDepth reports how many proposals are waiting for window capacity.
func (t *Throttler) QueueDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
