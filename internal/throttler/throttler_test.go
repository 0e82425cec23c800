package throttler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine/pkg/types"
)

func TestThrottlerReleasesWithinWindowCapacity(t *testing.T) {
	th := New(Config{MaxOrdersPerWindow: 2, WindowDuration: time.Minute, DrainTick: 5 * time.Millisecond}, 10, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	th.In <- types.TradeProposal{Symbol: "A"}
	th.In <- types.TradeProposal{Symbol: "B"}
	th.In <- types.TradeProposal{Symbol: "C"}

	received := 0
	timeout := time.After(200 * time.Millisecond)
	for received < 2 {
		select {
		case <-th.Out:
			received++
		case <-timeout:
			t.Fatalf("expected 2 proposals released within window, got %d", received)
		}
	}

	select {
	case <-th.Out:
		t.Fatal("third proposal should not be released until window slides")
	case <-time.After(50 * time.Millisecond):
	}

	require.Eventually(t, func() bool { return th.QueueDepth() == 1 }, 200*time.Millisecond, 5*time.Millisecond)
}

func TestThrottlerNeverDropsProposals(t *testing.T) {
	th := New(Config{MaxOrdersPerWindow: 1, WindowDuration: 20 * time.Millisecond, DrainTick: 5 * time.Millisecond}, 10, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	const total = 5
	for i := 0; i < total; i++ {
		th.In <- types.TradeProposal{Symbol: "A"}
	}

	received := 0
	deadline := time.After(2 * time.Second)
	for received < total {
		select {
		case <-th.Out:
			received++
		case <-deadline:
			t.Fatalf("expected all %d proposals eventually released, got %d", total, received)
		}
	}
}
