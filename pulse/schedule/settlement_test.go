package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/ledger"
)

func settlementFor(c *Claim, ref string, settledAt, next time.Time) Settlement {
	return Settlement{
		Token:      c.Token,
		Occurrence: c.Schedule.OccurrenceCount + 1,
		Channel:    ledger.ChannelBank,
		ReceiptRef: ref,
		Amount:     c.Schedule.Amount.String(),
		Currency:   c.Schedule.Currency,
		SettledAt:  settledAt,
		NextDueAt:  next,
	}
}

func TestClaimAndCommit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now.Add(-time.Hour)))
	require.NoError(t, store.ScheduleRetry(ctx, "s1", 1, now.Add(-time.Minute), "rail down", now))

	claim, err := store.Claim(ctx, "s1", now)
	require.NoError(t, err)
	require.NotEmpty(t, claim.Token)
	assert.False(t, claim.Pause.Blocked)

	held, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, claim.Token, held.ClaimToken)

	next := now.Add(21 * time.Hour)
	require.NoError(t, store.Commit(ctx, "s1", settlementFor(claim, "bank-1", now, next)))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.OccurrenceCount)
	assert.Equal(t, next, got.NextDueAt)
	assert.Equal(t, 0, got.Retry.AttemptCount)
	assert.Nil(t, got.Retry.RetryAt)
	assert.Empty(t, got.Retry.LastError)
	assert.Empty(t, got.ClaimToken)
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, now, *got.LastProcessedAt)
	assert.Equal(t, StatusActive, got.Status)

	receipts, err := store.Receipts(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "bank-1", receipts[0].ReceiptRef)
	assert.Equal(t, 1, receipts[0].Occurrence)
	assert.Equal(t, ledger.ChannelBank, receipts[0].Channel)
}

func TestCommitCompletesPastEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now))

	claim, err := store.Claim(ctx, "s1", now)
	require.NoError(t, err)
	st := settlementFor(claim, "r1", now, now.Add(24*time.Hour))
	st.Completed = true
	require.NoError(t, store.Commit(ctx, "s1", st))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestCommitKeepsConcurrentCancel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now))

	claim, err := store.Claim(ctx, "s1", now)
	require.NoError(t, err)
	_, err = store.Cancel(ctx, "s1", now)
	require.NoError(t, err)

	st := settlementFor(claim, "r1", now, now.Add(24*time.Hour))
	st.Completed = true
	require.NoError(t, store.Commit(ctx, "s1", st), "money moved, receipt must be kept")

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 1, got.OccurrenceCount)
}

func TestCommitWithWrongTokenChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now))

	claim, err := store.Claim(ctx, "s1", now)
	require.NoError(t, err)

	st := settlementFor(claim, "r1", now, now.Add(24*time.Hour))
	st.Token = "stolen"
	err = store.Commit(ctx, "s1", st)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.OccurrenceCount)
	assert.Equal(t, now, got.NextDueAt)
	receipts, err := store.Receipts(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestClaimRejections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Claim(ctx, "missing", now)
	assert.True(t, errors.IsNotFoundError(err))

	mustCreate(t, store, newDailySchedule("future", now.Add(time.Hour)))
	_, err = store.Claim(ctx, "future", now)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	unverified := newDailySchedule("unverified", now)
	unverified.SecretVerified = false
	mustCreate(t, store, unverified)
	_, err = store.Claim(ctx, "unverified", now)
	assert.True(t, errors.Is(err, errors.ErrSecretRequired))

	mustCreate(t, store, newDailySchedule("cancelled", now))
	_, err = store.Cancel(ctx, "cancelled", now)
	require.NoError(t, err)
	_, err = store.Claim(ctx, "cancelled", now)
	assert.True(t, errors.Is(err, errors.ErrNotActive))

	mustCreate(t, store, newDailySchedule("twice", now))
	_, err = store.Claim(ctx, "twice", now)
	require.NoError(t, err)
	_, err = store.Claim(ctx, "twice", now)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestClaimHonoursPause(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	inWindow := newDailySchedule("window", now.Add(-time.Hour))
	inWindow.Pause = &PauseWindow{Enabled: true, Start: now.Add(-time.Hour), End: now.Add(time.Hour), Reason: "holiday"}
	mustCreate(t, store, inWindow)

	claim, err := store.Claim(ctx, "window", now)
	require.NoError(t, err)
	assert.True(t, claim.Pause.Blocked)
	assert.Equal(t, "holiday", claim.Pause.Reason)
	assert.Empty(t, claim.Token)
	got, _ := store.Get(ctx, "window")
	assert.Empty(t, got.ClaimToken, "blocked claim persists nothing")

	paused := newDailySchedule("paused", now.Add(-time.Hour))
	paused.Status = StatusPaused
	mustCreate(t, store, paused)
	claim, err = store.Claim(ctx, "paused", now)
	require.NoError(t, err)
	assert.Equal(t, "status is paused", claim.Pause.Reason)

	expired := newDailySchedule("expired", now.Add(-time.Hour))
	expired.Pause = &PauseWindow{Enabled: true, Start: now.Add(-48 * time.Hour), End: now.Add(-24 * time.Hour)}
	mustCreate(t, store, expired)
	claim, err = store.Claim(ctx, "expired", now)
	require.NoError(t, err)
	assert.NotEmpty(t, claim.Token)
	assert.True(t, claim.Pause.ShouldAutoClear)
	got, _ = store.Get(ctx, "expired")
	assert.Nil(t, got.Pause, "expired window cleared in the claim transaction")
}

func TestReleaseAndRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now))

	claim, err := store.Claim(ctx, "s1", now)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "s1", claim.Token))
	require.NoError(t, store.ScheduleRetry(ctx, "s1", 1, now.Add(5*time.Minute), "rail down", now))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.ClaimToken)
	assert.Equal(t, 1, got.Retry.AttemptCount)
	assert.Equal(t, now.Add(5*time.Minute), *got.Retry.RetryAt)
	assert.Equal(t, "rail down", got.Retry.LastError)
	assert.Equal(t, now, got.NextDueAt, "failure leaves next due untouched")
	assert.Equal(t, 0, got.OccurrenceCount)
}

func TestAutoPause(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now))
	require.NoError(t, store.ScheduleRetry(ctx, "s1", 2, now, "rail down", now))

	changed, err := store.AutoPause(ctx, "s1", "retries exhausted", 3, "rail down", now)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, "retries exhausted", got.PausedReason)
	assert.Nil(t, got.Retry.RetryAt)
	assert.Equal(t, 3, got.Retry.AttemptCount)
	assert.Equal(t, 1, got.FailureCount)

	changed, err = store.AutoPause(ctx, "s1", "again", 4, "x", now)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReapStaleClaims(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("stale", now.Add(-time.Hour)))
	mustCreate(t, store, newDailySchedule("fresh", now.Add(-time.Hour)))

	_, err := store.Claim(ctx, "stale", now.Add(-10*time.Minute))
	require.NoError(t, err)
	_, err = store.Claim(ctx, "fresh", now.Add(-time.Minute))
	require.NoError(t, err)

	reaped, err := store.ReapStaleClaims(ctx, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, "stale", reaped[0].ID)

	got, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Equal(t, ReasonOutcomeUnknown, got.PausedReason)
	assert.Empty(t, got.ClaimToken)
	assert.Equal(t, 0, got.OccurrenceCount, "never re-executed or advanced")

	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.ClaimToken)
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, store, newDailySchedule("s1", now))

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Claim(ctx, "s1", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, errors.ErrConflict), "loser got %v", err)
	}
	assert.Equal(t, 1, wins)
}
