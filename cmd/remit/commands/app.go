package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/remit/accounts"
	"github.com/teranos/remit/am"
	"github.com/teranos/remit/db"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/events"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/batch"
	"github.com/teranos/remit/pulse/retry"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/pulse/settle"
	"github.com/teranos/remit/secret"
	"github.com/teranos/remit/telemetry"
)

// app is every component a command may need, built from configuration
type app struct {
	cfg       *am.Config
	db        *sql.DB
	schedules *schedule.Store
	attempts  *schedule.AttemptStore
	accounts  *accounts.Store
	cache     secret.Cache
	keys      *secret.Materializer
	limiter   *settle.Limiter
	bus       *events.Bus
	emitter   *events.Emitter
	retry     *retry.Controller
	runner    *batch.Runner
	telemetry *telemetry.Provider
	log       *zap.SugaredLogger

	closers []func() error
}

// openDatabase opens and migrates the configured database
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// newApp loads configuration and wires the settlement stack
func newApp(ctx context.Context) (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	a := &app{cfg: cfg, log: logger.Logger}

	// installed first so every instrument below binds to it
	if a.telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, logger.ComponentLogger("telemetry")); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.telemetry.Shutdown(shutdownCtx)
	})

	if a.db, err = openDatabase(cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)
	a.schedules = schedule.NewStore(a.db)
	a.attempts = schedule.NewAttemptStore(a.db)
	a.accounts = accounts.NewStore(a.db)

	a.cache, err = a.secretCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	deriver, err := secret.DeriverByName(cfg.Secret.KeyDerivation)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.keys = secret.NewMaterializer(a.cache, deriver, cfg.SecretTTL(), logger.ComponentLogger("secret"))

	router, err := a.ledgerRouter()
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := a.eventPublisher()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.emitter = events.NewEmitter(publisher, logger.ComponentLogger("events"))

	a.limiter = settle.NewLimiter(cfg.Pulse.MoverCallsPerMinute)
	executor := settle.NewExecutor(settle.Deps{
		Schedules: a.schedules,
		Attempts:  a.attempts,
		Accounts:  a.accounts,
		Keys:      a.keys,
		Router:    router,
		Limiter:   a.limiter,
		Logger:    logger.ComponentLogger("pulse.settle"),
	})

	policy, err := retryPolicy(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.retry = retry.NewController(a.schedules, policy, a.emitter, logger.ComponentLogger("pulse.retry"))
	a.runner = batch.NewRunner(a.schedules, a.attempts, executor, a.retry, a.emitter,
		batchConfig(cfg), logger.ComponentLogger("pulse.batch"))
	return a, nil
}

func retryPolicy(cfg *am.Config) (retry.Policy, error) {
	auth, err := retry.ParseAuthFailure(cfg.Retry.AuthFailure)
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{
		Delays:      cfg.RetryDelays(),
		MaxAttempts: cfg.Retry.MaxAttempts,
		AuthFailure: auth,
	}, nil
}

func batchConfig(cfg *am.Config) batch.Config {
	return batch.Config{
		BatchSize:   cfg.Pulse.BatchSize,
		Concurrency: cfg.Pulse.Concurrency,
		ClaimLease:  cfg.ClaimLease(),
	}
}

func (a *app) secretCache(ctx context.Context) (secret.Cache, error) {
	if a.cfg.Secret.Backend != "redis" {
		return secret.NewMemoryCache(), nil
	}
	r := a.cfg.Secret.Redis
	cache := secret.NewRedisCache(secret.RedisOptions{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Prefix:   r.Prefix,
	})
	a.closers = append(a.closers, cache.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		return nil, errors.Wrapf(err, "secret cache at %s", r.Addr)
	}
	return cache, nil
}

func (a *app) ledgerRouter() (*ledger.Router, error) {
	var movers []ledger.Mover
	for _, m := range []struct {
		channel ledger.Channel
		cfg     am.MoverConfig
	}{
		{ledger.ChannelOnChain, a.cfg.Ledger.OnChain},
		{ledger.ChannelBank, a.cfg.Ledger.Bank},
	} {
		switch m.cfg.Kind {
		case "":
			continue
		case "sandbox":
			a.log.Warnw("Using sandbox mover; no value will move", logger.FieldChannel, m.channel)
			movers = append(movers, ledger.NewSandboxMover(m.channel))
		case "http":
			mover, err := ledger.NewHTTPMover(ledger.HTTPMoverConfig{
				Channel:      m.channel,
				Endpoint:     m.cfg.Endpoint,
				Timeout:      time.Duration(m.cfg.TimeoutSeconds) * time.Second,
				AllowPrivate: m.cfg.AllowPrivate,
			})
			if err != nil {
				return nil, err
			}
			movers = append(movers, mover)
		}
	}
	return ledger.NewRouter(movers...), nil
}

// eventPublisher fans events out to the log, the in-process bus and, if
// configured, Redis pub/sub
func (a *app) eventPublisher() (events.Publisher, error) {
	a.bus = events.NewBus()
	pubs := events.Multi{events.NewLogSink(logger.ComponentLogger("events")), a.bus}

	if a.cfg.Events.Backend == "redis" {
		r := a.cfg.Events.Redis
		client := redis.NewClient(&redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
		a.closers = append(a.closers, client.Close)
		pubs = append(pubs, events.NewRedisPublisher(client, a.cfg.Events.Channel))
	}
	return pubs, nil
}

// Close releases everything newApp opened, newest first
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnw("Close failed", logger.FieldError, err)
		}
	}
	a.closers = nil
}
