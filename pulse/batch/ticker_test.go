package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/remit/internal/testing/fixture"
)

func TestNewTickerRejectsBadSpec(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := NewTicker(h.runner, "every minute please", zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestTickRunsPass(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.env.Create(t, fixture.Daily("s1", t0.Add(-time.Hour)))

	ticker, err := NewTicker(h.runner, "", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, ticker.spec)

	ticker.tick()
	assert.Len(t, h.env.Mover.Transfers(), 1)

	stats := ticker.GetStats()
	assert.Equal(t, int64(1), stats["ticks_since_start"])
	assert.Equal(t, 1, stats["last_processed"])
	assert.Equal(t, t0, stats["last_tick_at"])
}

func TestTickerStartStop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ticker, err := NewTickerWithContext(context.Background(), h.runner, "@every 1h", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ticker.Start()
	ticker.Stop()
	assert.Error(t, ticker.ctx.Err(), "context cancelled on stop")
}

func TestTickerEvery(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ticker, err := NewTicker(h.runner, "@every 1h", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	assert.Error(t, ticker.Every("whenever", "bad", func(context.Context) {}))

	ran := make(chan struct{}, 1)
	require.NoError(t, ticker.Every("@every 1s", "sweep", func(ctx context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	ticker.Start()
	defer ticker.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance job never ran")
	}
}

func TestLogNextDueNamesEarliestSchedule(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.env.Create(t, fixture.Daily("later", t0.Add(2*time.Hour)))
	h.env.Create(t, fixture.Daily("sooner", t0.Add(30*time.Minute)))

	core, logs := observer.New(zap.InfoLevel)
	ticker, err := NewTicker(h.runner, "@every 1h", zap.New(core).Sugar())
	require.NoError(t, err)

	ticker.logNextDue(t0)
	require.Equal(t, 1, logs.Len())
	msg := logs.All()[0].Message
	assert.Contains(t, msg, "next settlement due in 30m0s")
	assert.Contains(t, msg, "(sooner)")

	ticker.logNextDue(t0)
	assert.Equal(t, 1, logs.Len(), "unchanged due count is not logged again")
}
