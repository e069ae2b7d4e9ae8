package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/events"
	"github.com/teranos/remit/internal/testing/fixture"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/pulse/retry"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/pulse/settle"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) // Monday

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(typ events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	env    *fixture.Env
	runner *Runner
	events *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	env := fixture.New(t, t0)
	log := zaptest.NewLogger(t).Sugar()
	rec := &recorder{}
	emitter := events.NewEmitter(rec, log)

	exec := settle.NewExecutor(settle.Deps{
		Schedules: env.Schedules,
		Attempts:  env.Attempts,
		Accounts:  env.Accounts,
		Keys:      env.Keys,
		Router:    env.Router,
		Logger:    log,
		Now:       env.Clock.Now,
	})
	ctrl := retry.NewController(env.Schedules, retry.DefaultPolicy(), emitter, log)
	runner := NewRunner(env.Schedules, env.Attempts, exec, ctrl, emitter, cfg, log)
	runner.SetClock(env.Clock.Now)
	return &harness{env: env, runner: runner, events: rec}
}

func TestRunOnceSettlesDueSchedulesInOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.env.Create(t, fixture.Daily("late", t0.Add(-time.Hour)))
	h.env.Create(t, fixture.Daily("early", t0.Add(-3*time.Hour)))
	h.env.Create(t, fixture.Daily("future", t0.Add(time.Hour)))

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Selected)
	assert.Equal(t, 2, stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.NotEmpty(t, stats.RunID)

	transfers := h.env.Mover.Transfers()
	require.Len(t, transfers, 2)
	assert.Equal(t, "early:1", transfers[0].IdempotencyKey)
	assert.Equal(t, "late:1", transfers[1].IdempotencyKey)

	processed := h.events.ofType(events.OccurrenceProcessed)
	require.Len(t, processed, 2)
	assert.Equal(t, stats.RunID, processed[0].RunID)
	assert.NotEmpty(t, processed[0].ReceiptRef)
	require.NotNil(t, processed[0].NextDueAt)

	assert.Equal(t, 0, h.env.Get(t, "future").OccurrenceCount)
}

func TestRunOnceHonoursBatchCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{BatchSize: 2})
	for i := 0; i < 5; i++ {
		h.env.Create(t, fixture.Daily(fmt.Sprintf("s%d", i), t0.Add(-time.Duration(5-i)*time.Minute)))
	}

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)

	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)

	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed, "backlog drains over passes")
}

func TestRunOnceConcurrent(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 20, Concurrency: 4})
	for i := 0; i < 10; i++ {
		h.env.Create(t, fixture.Daily(fmt.Sprintf("s%d", i), t0.Add(-time.Hour)))
	}

	stats, err := h.runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Processed)
	assert.Len(t, h.env.Mover.Transfers(), 10)
}

func TestFailuresEscalateToPause(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	due := t0.Add(-time.Hour)
	h.env.Create(t, fixture.Daily("s1", due))
	rail := errors.Mark(errors.New("rail unavailable"), errors.ErrServiceUnavailable)
	h.env.Mover.FailNext(rail, rail, rail)

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Retried)

	// not eligible again until the retry window passes
	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Selected)

	h.env.Clock.Advance(5 * time.Minute)
	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	h.env.Clock.Advance(15 * time.Minute)
	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoPaused)

	got := h.env.Get(t, "s1")
	assert.Equal(t, schedule.StatusPaused, got.Status)
	assert.Equal(t, due, got.NextDueAt, "failures never advance the schedule")
	assert.Equal(t, 0, got.OccurrenceCount)
	assert.Len(t, h.events.ofType(events.OccurrenceFailed), 3)
	assert.Len(t, h.events.ofType(events.ScheduleAutoPaused), 1)
	assert.Empty(t, h.env.Mover.Transfers())

	h.env.Clock.Advance(24 * time.Hour)
	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Selected, "paused by exhaustion until resumed")

	_, err = h.env.Schedules.Resume(ctx, "s1", h.env.Clock.Now())
	require.NoError(t, err)
	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed, "overdue occurrence settles once after resume")
}

func TestPauseWindowBlocksAndClears(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	sc := fixture.Daily("s1", t0.Add(-time.Hour))
	sc.Pause = &schedule.PauseWindow{Enabled: true, Start: t0.Add(-2 * time.Hour), End: t0.Add(2 * time.Hour)}
	h.env.Create(t, sc)

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Paused)
	assert.Zero(t, stats.Failed)
	paused := h.events.ofType(events.OccurrencePaused)
	require.Len(t, paused, 1)
	assert.Contains(t, paused[0].Reason, "paused from")
	assert.Empty(t, h.env.Mover.Transfers())
	assert.Equal(t, 0, h.env.Get(t, "s1").Retry.AttemptCount, "a pause is not a failure")

	h.env.Clock.Advance(3 * time.Hour)
	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Nil(t, h.env.Get(t, "s1").Pause, "expired window cleared")
}

func TestStaleClaimsAreReaped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{ClaimLease: 5 * time.Minute})
	h.env.Create(t, fixture.Daily("s1", t0.Add(-time.Hour)))

	// a process died after claiming and starting the attempt
	claim, err := h.env.Schedules.Claim(ctx, "s1", t0.Add(-10*time.Minute))
	require.NoError(t, err)
	require.NoError(t, h.env.Attempts.Start(ctx, &schedule.Attempt{ScheduleID: "s1", Occurrence: 1, StartedAt: t0.Add(-10 * time.Minute)}))
	require.NotEmpty(t, claim.Token)

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reaped)
	assert.Zero(t, stats.Selected)

	got := h.env.Get(t, "s1")
	assert.Equal(t, schedule.StatusPaused, got.Status)
	assert.Equal(t, schedule.ReasonOutcomeUnknown, got.PausedReason)
	assert.Empty(t, h.env.Mover.Transfers(), "never re-executed")

	autoPaused := h.events.ofType(events.ScheduleAutoPaused)
	require.Len(t, autoPaused, 1)
	assert.Equal(t, schedule.ReasonOutcomeUnknown, autoPaused[0].Reason)

	attempts, err := h.env.Attempts.ListAttempts(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, schedule.AttemptAbandoned, attempts[0].Status)
}

type blockingSettler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSettler) Settle(ctx context.Context, id string, _ settle.Options) settle.Result {
	b.entered <- struct{}{}
	<-b.release
	return settle.Result{ScheduleID: id, Outcome: settle.OutcomeSkipped}
}

func TestRunOnceIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	env := fixture.New(t, t0)
	env.Create(t, fixture.Daily("s1", t0.Add(-time.Hour)))
	settler := &blockingSettler{entered: make(chan struct{}), release: make(chan struct{})}
	runner := NewRunner(env.Schedules, env.Attempts, settler, nil, nil, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	runner.SetClock(env.Clock.Now)

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunOnce(ctx)
		done <- err
	}()
	<-settler.entered
	assert.True(t, runner.Running())

	_, err := runner.RunOnce(ctx)
	assert.True(t, errors.Is(err, ErrPassInProgress))

	close(settler.release)
	require.NoError(t, <-done)
	assert.False(t, runner.Running())
}

func TestRetryNow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.env.Create(t, fixture.Daily("s1", t0.Add(-time.Hour)))
	require.NoError(t, h.env.Schedules.ScheduleRetry(ctx, "s1", 1, t0.Add(time.Hour), "rail unavailable", t0))

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Selected, "waiting for retry window")

	res, err := h.runner.RetryNow(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, settle.OutcomeSettled, res.Outcome)
	assert.Len(t, h.events.ofType(events.OccurrenceProcessed), 1)

	_, err = h.runner.RetryNow(ctx, "s1", "")
	assert.True(t, errors.IsInvalidRequestError(err), "next occurrence is not due yet")

	_, err = h.env.Schedules.Cancel(ctx, "s1", t0)
	require.NoError(t, err)
	_, err = h.runner.RetryNow(ctx, "s1", "")
	assert.True(t, errors.Is(err, errors.ErrNotActive))
}

func TestRetryNowWithInlinePIN(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.env.Create(t, fixture.Daily("s1", t0.Add(-time.Hour)))
	require.NoError(t, h.env.Keys.Forget(ctx, fixture.PayerID))

	res, err := h.runner.RetryNow(ctx, "s1", fixture.PIN)
	require.NoError(t, err)
	assert.Equal(t, settle.OutcomeSettled, res.Outcome)

	_, ok, err := h.env.Cache.Get(ctx, fixture.PayerID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSuccessiveOccurrencesAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	h.env.Create(t, fixture.Daily("s1", t0.Add(-time.Hour)))

	prev := t0.Add(-time.Hour)
	for i := 1; i <= 5; i++ {
		stats, err := h.runner.RunOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Processed, "pass %d", i)

		got := h.env.Get(t, "s1")
		assert.True(t, got.NextDueAt.After(prev))
		assert.Equal(t, i, got.OccurrenceCount)
		prev = got.NextDueAt
		h.env.Clock.Set(got.NextDueAt)
	}

	receipts, err := h.env.Schedules.Receipts(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, receipts, 5)
}

func TestSetConfigTakesEffectNextPass(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{BatchSize: 1})
	for i := 0; i < 4; i++ {
		h.env.Create(t, fixture.Daily(fmt.Sprintf("s%d", i), t0.Add(-time.Duration(4-i)*time.Minute)))
	}

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)

	h.runner.SetConfig(Config{BatchSize: 10})

	stats, err = h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Len(t, h.env.Mover.Transfers(), 4)
}

func TestUnroutableChannelPausesWithoutRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultConfig())
	sc := fixture.Daily("s1", t0.Add(-time.Hour))
	sc.Channel = ledger.ChannelOnChain
	h.env.Create(t, sc)

	stats, err := h.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Retried)
	assert.Equal(t, 1, stats.AutoPaused)

	got := h.env.Get(t, "s1")
	assert.Equal(t, schedule.StatusPaused, got.Status)
	assert.Nil(t, got.Retry.RetryAt)
	assert.Zero(t, got.Retry.AttemptCount, "no retry budget spent")
	assert.Contains(t, got.PausedReason, "no mover configured")
}
