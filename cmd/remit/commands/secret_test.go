package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/internal/testing/fixture"
	"github.com/teranos/remit/pulse/retry"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestAuthorizePayerMarksLiveSchedules(t *testing.T) {
	ctx := context.Background()
	env := fixture.New(t, t0)
	require.NoError(t, env.Cache.Evict(ctx, fixture.PayerID))

	unverified := fixture.Daily("s-new", t0)
	unverified.SecretVerified = false
	env.Create(t, unverified)
	env.Create(t, fixture.Daily("s-verified", t0))

	cancelled := fixture.Daily("s-cancelled", t0)
	cancelled.SecretVerified = false
	env.Create(t, cancelled)
	_, err := env.Schedules.Cancel(ctx, "s-cancelled", t0)
	require.NoError(t, err)

	marked, err := authorizePayer(ctx, env.Keys, env.Accounts, env.Schedules, fixture.PayerID, fixture.PIN, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	assert.True(t, env.Get(t, "s-new").SecretVerified)
	assert.False(t, env.Get(t, "s-cancelled").SecretVerified)

	pin, ok, err := env.Cache.Get(ctx, fixture.PayerID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fixture.PIN, pin)
}

func TestAuthorizePayerRejectsWrongPIN(t *testing.T) {
	ctx := context.Background()
	env := fixture.New(t, t0)
	require.NoError(t, env.Cache.Evict(ctx, fixture.PayerID))

	sc := fixture.Daily("s1", t0)
	sc.SecretVerified = false
	env.Create(t, sc)

	_, err := authorizePayer(ctx, env.Keys, env.Accounts, env.Schedules, fixture.PayerID, "0000", t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	assert.False(t, env.Get(t, "s1").SecretVerified)
	_, ok, err := env.Cache.Get(ctx, fixture.PayerID)
	require.NoError(t, err)
	assert.False(t, ok, "a rejected PIN is never cached")
}

func TestAuthorizeUnknownPayer(t *testing.T) {
	env := fixture.New(t, t0)
	_, err := authorizePayer(context.Background(), env.Keys, env.Accounts, env.Schedules, "nobody", fixture.PIN, t0)
	assert.True(t, errors.IsNotFoundError(err))
}

func defaultConfig(t *testing.T) *am.Config {
	t.Helper()
	cfg, err := am.DefaultConfig()
	require.NoError(t, err)
	return cfg
}

func TestFormatConfig(t *testing.T) {
	cfg := defaultConfig(t)

	out, err := formatConfig(cfg, "toml")
	require.NoError(t, err)
	assert.Contains(t, out, "batch_size")

	for _, format := range []string{"json", "yaml"} {
		out, err := formatConfig(cfg, format)
		require.NoError(t, err, format)
		assert.NotEmpty(t, out, format)
	}

	_, err = formatConfig(cfg, "xml")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Retry.DelaysSeconds = []int{60, 120}
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.AuthFailure = "retry"

	policy, err := retryPolicy(cfg)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, policy.Delays)
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, retry.AuthFailureRetry, policy.AuthFailure)

	cfg.Retry.AuthFailure = "ignore"
	_, err = retryPolicy(cfg)
	assert.Error(t, err)
}
