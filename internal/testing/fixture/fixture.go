// Package fixture builds a migrated database with one payer, one payee and
// the stores and collaborators the settlement path needs.
package fixture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/remit/accounts"
	remittest "github.com/teranos/remit/internal/testing"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/pulse/occurrence"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/secret"
)

const (
	PayerID = "payer-1"
	PayeeID = "payee-1"
	PIN     = "4321"
)

// SigningKey is the payer's plaintext signing key
var SigningKey = []byte("0123456789abcdef0123456789abcdef")

// Clock is a settable clock
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Env holds everything a settlement test touches
type Env struct {
	Clock     *Clock
	Schedules *schedule.Store
	Attempts  *schedule.AttemptStore
	Accounts  *accounts.Store
	Cache     *secret.MemoryCache
	Keys      *secret.Materializer
	Mover     *ledger.SandboxMover
	Router    *ledger.Router
}

// New creates an Env whose clock starts at now. The payer's PIN is cached.
func New(t *testing.T, now time.Time) *Env {
	t.Helper()
	db := remittest.CreateTestDB(t)
	clock := NewClock(now)
	cache := secret.NewMemoryCacheWithClock(clock.Now)
	keys := secret.NewMaterializer(cache, secret.ConcatDeriver{}, 30*24*time.Hour, zaptest.NewLogger(t).Sugar())
	mover := ledger.NewSandboxMover(ledger.ChannelBank)

	env := &Env{
		Clock:     clock,
		Schedules: schedule.NewStore(db),
		Attempts:  schedule.NewAttemptStore(db),
		Accounts:  accounts.NewStore(db),
		Cache:     cache,
		Keys:      keys,
		Mover:     mover,
		Router:    ledger.NewRouter(mover),
	}

	ctx := context.Background()
	email, hash := "payer@example.com", "$2a$10$examplehash"
	sealed, err := keys.SealSigningKey(email, hash, PIN, SigningKey)
	require.NoError(t, err)
	require.NoError(t, env.Accounts.CreatePayer(ctx, &accounts.Payer{
		ID:               PayerID,
		Email:            email,
		PasswordHash:     hash,
		RoutingAddress:   "acct-payer",
		SealedSigningKey: sealed,
	}))
	require.NoError(t, env.Accounts.CreatePayee(ctx, &accounts.Payee{
		ID:             PayeeID,
		Name:           "Landlord",
		RoutingAddress: "acct-payee",
	}))
	require.NoError(t, keys.Remember(ctx, PayerID, PIN))
	return env
}

// Daily returns a verified daily 09:00 schedule of 25.00 USD due at due
func Daily(id string, due time.Time) *schedule.Schedule {
	return &schedule.Schedule{
		ID:             id,
		PayerID:        PayerID,
		PayeeID:        PayeeID,
		Amount:         decimal.RequireFromString("25.00"),
		Currency:       "USD",
		Channel:        ledger.ChannelEither,
		Frequency:      occurrence.Daily,
		Rule:           occurrence.SimpleRule{Every: occurrence.Daily, Times: []string{"09:00"}},
		StartAt:        due,
		NextDueAt:      due,
		SecretVerified: true,
	}
}

// Create stores sc
func (e *Env) Create(t *testing.T, sc *schedule.Schedule) *schedule.Schedule {
	t.Helper()
	require.NoError(t, e.Schedules.Create(context.Background(), sc))
	return sc
}

// Get reloads a schedule
func (e *Env) Get(t *testing.T, id string) *schedule.Schedule {
	t.Helper()
	sc, err := e.Schedules.Get(context.Background(), id)
	require.NoError(t, err)
	return sc
}
