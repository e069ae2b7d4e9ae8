// Package batch drives settlement passes: select the due set, settle each
// schedule, route failures to the retry controller and emit outcomes.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/events"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/retry"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/pulse/settle"
)

// ErrPassInProgress is returned by RunOnce while another pass is running
var ErrPassInProgress = errors.New("settlement pass already running")

// Store is the schedule store view the orchestrator needs
type Store interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*schedule.Schedule, error)
	Get(ctx context.Context, id string) (*schedule.Schedule, error)
	SetPauseWindow(ctx context.Context, id string, w *schedule.PauseWindow, now time.Time) error
	ResetRetry(ctx context.Context, id string, now time.Time) error
	ReapStaleClaims(ctx context.Context, cutoff, now time.Time) ([]*schedule.Schedule, error)
	Stats(ctx context.Context, now time.Time) (*schedule.Stats, error)
	GetNextDue(ctx context.Context) (*schedule.Schedule, error)
}

// AttemptLog is the attempt log view the reaper needs
type AttemptLog interface {
	AbandonRunning(ctx context.Context, scheduleID, reason string, now time.Time) (int, error)
}

// Settler makes one settlement attempt
type Settler interface {
	Settle(ctx context.Context, id string, opts settle.Options) settle.Result
}

// FailureHandler decides what follows a failed attempt
type FailureHandler interface {
	OnFailure(ctx context.Context, sc *schedule.Schedule, cause error, now time.Time) (retry.Decision, error)
}

// Config bounds a pass
type Config struct {
	BatchSize   int           // max schedules per pass
	Concurrency int           // 1 settles sequentially
	ClaimLease  time.Duration // unfinished claims older than this are reaped
}

// DefaultConfig settles up to 50 schedules one at a time
func DefaultConfig() Config {
	return Config{
		BatchSize:   schedule.DefaultBatchSize,
		Concurrency: 1,
		ClaimLease:  5 * time.Minute,
	}
}

// RunStats summarises one pass
type RunStats struct {
	RunID      string
	Selected   int
	Processed  int // settled
	Failed     int
	Retried    int // failures that will be retried
	AutoPaused int // failures that paused their schedule
	Paused     int // blocked by a pause, not a failure
	Skipped    int // not claimed: conflict, gone or no longer active
	Reaped     int // stale claims paused before the pass
	Elapsed    time.Duration
}

func (s *RunStats) record(outcome settle.Outcome, d *retry.Decision) {
	switch outcome {
	case settle.OutcomeSettled:
		s.Processed++
	case settle.OutcomePaused:
		s.Paused++
	case settle.OutcomeFailed, settle.OutcomeUnrecorded:
		s.Failed++
		if d != nil && d.WillRetry {
			s.Retried++
		}
		if d != nil && d.Paused {
			s.AutoPaused++
		}
	default:
		s.Skipped++
	}
}

// Runner is the batch orchestrator. At most one pass runs at a time.
type Runner struct {
	store    Store
	attempts AttemptLog
	settler  Settler
	failures FailureHandler
	emitter  *events.Emitter
	metrics  *metrics
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu      sync.RWMutex
	cfg     Config
	running atomic.Bool
}

// NewRunner creates a runner
func NewRunner(store Store, attempts AttemptLog, settler Settler, failures FailureHandler, emitter *events.Emitter, cfg Config, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		store:    store,
		attempts: attempts,
		settler:  settler,
		failures: failures,
		emitter:  emitter,
		metrics:  newMetrics(otel.GetMeterProvider(), log),
		cfg:      cfg.withDefaults(),
		logger:   logger.AddPulseSymbol(log),
		now:      time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	return c
}

// Config returns the runner's current pass bounds
func (r *Runner) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetConfig replaces the pass bounds; the next pass uses them
func (r *Runner) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg.withDefaults()
}

// SetClock replaces the runner's clock
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Store returns the schedule store the runner reads
func (r *Runner) Store() Store {
	return r.store
}

// Running reports whether a pass is in progress
func (r *Runner) Running() bool {
	return r.running.Load()
}

// RunOnce runs one pass. It returns ErrPassInProgress without doing
// anything if a pass is already running.
func (r *Runner) RunOnce(ctx context.Context) (*RunStats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer r.running.Store(false)

	start := r.now()
	cfg := r.Config()
	stats := &RunStats{RunID: uuid.NewString()}
	ctx = logger.WithRunID(ctx, stats.RunID)
	log := logger.FromContext(ctx, r.logger)

	reaped, err := r.reap(ctx, start, cfg.ClaimLease)
	stats.Reaped = reaped
	if err != nil {
		log.Warnw("Stale claim recovery failed", logger.FieldError, err)
	}

	due, err := r.store.ListDue(ctx, start, cfg.BatchSize)
	if err != nil {
		return stats, errors.Wrap(err, "failed to select due schedules")
	}
	stats.Selected = len(due)
	if len(due) == 0 {
		stats.Elapsed = r.now().Sub(start)
		r.metrics.recordPass(ctx, stats)
		return stats, nil
	}

	logger.AddPulseOpenSymbol(log).Infow("Settlement pass started", logger.FieldCount, len(due), logger.FieldBatchSize, cfg.BatchSize)

	var mu sync.Mutex
	handle := func(sc *schedule.Schedule) {
		outcome, decision := r.process(ctx, sc, stats.RunID)
		mu.Lock()
		stats.record(outcome, decision)
		mu.Unlock()
	}

	if cfg.Concurrency == 1 {
		for _, sc := range due {
			if ctx.Err() != nil {
				break
			}
			handle(sc)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(cfg.Concurrency)
		for _, sc := range due {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				handle(sc)
				return nil
			})
		}
		_ = g.Wait()
	}

	stats.Elapsed = r.now().Sub(start)
	r.metrics.recordPass(ctx, stats)
	logger.AddPulseCloseSymbol(log).Infow("Settlement pass finished",
		"selected", stats.Selected,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"retried", stats.Retried,
		"auto_paused", stats.AutoPaused,
		"paused", stats.Paused,
		"skipped", stats.Skipped,
		logger.FieldDurationMS, stats.Elapsed.Milliseconds(),
	)
	return stats, ctx.Err()
}

// process settles one selected schedule and routes its outcome
func (r *Runner) process(ctx context.Context, sc *schedule.Schedule, runID string) (settle.Outcome, *retry.Decision) {
	now := r.now()
	ctx = logger.WithScheduleID(ctx, sc.ID)

	// Cheap pre-check; the claim re-evaluates authoritatively
	pause := schedule.EvaluatePause(sc, now)
	if pause.Blocked {
		r.emitPaused(ctx, sc, pause.Reason)
		r.metrics.recordOutcome(ctx, settle.OutcomePaused)
		return settle.OutcomePaused, nil
	}
	if pause.ShouldAutoClear {
		if err := r.store.SetPauseWindow(ctx, sc.ID, nil, now); err != nil {
			logger.FromContext(ctx, r.logger).Warnw("Failed to clear expired pause window", logger.FieldError, err)
		}
	}

	res := r.settler.Settle(ctx, sc.ID, settle.Options{RunID: runID})
	return res.Outcome, r.route(ctx, sc, res)
}

// route emits the outcome of res and hands failures to the retry controller
func (r *Runner) route(ctx context.Context, selected *schedule.Schedule, res settle.Result) *retry.Decision {
	r.metrics.recordOutcome(ctx, res.Outcome)
	log := logger.FromContext(ctx, r.logger)

	sc := res.Schedule
	if sc == nil {
		sc = selected
	}

	switch res.Outcome {
	case settle.OutcomeSettled:
		e := events.ForSchedule(ctx, events.OccurrenceProcessed, sc)
		e.ReceiptRef = res.ReceiptRef
		e.Channel = string(res.Channel)
		next := res.NextDueAt
		e.NextDueAt = &next
		e.Completed = res.Completed
		r.emitter.Emit(ctx, e)
		return nil

	case settle.OutcomePaused:
		r.emitPaused(ctx, sc, res.Reason)
		return nil

	case settle.OutcomeFailed:
		d, err := r.failures.OnFailure(ctx, sc, res.Err, r.now())
		if err != nil {
			log.Errorw("Failed to record settlement failure", logger.FieldError, err, "cause", res.Err)
		}
		return &d

	case settle.OutcomeUnrecorded:
		log.Errorw("Settlement outcome not recorded; schedule will be paused when its claim expires",
			logger.FieldReceiptRef, res.ReceiptRef,
			logger.FieldError, res.Err,
		)
		return nil

	default:
		log.Debugw("Schedule skipped", logger.FieldOutcome, res.Outcome, logger.FieldError, res.Err)
		return nil
	}
}

func (r *Runner) emitPaused(ctx context.Context, sc *schedule.Schedule, reason string) {
	e := events.ForSchedule(ctx, events.OccurrencePaused, sc)
	e.Reason = reason
	r.emitter.Emit(ctx, e)
}

// reap pauses schedules whose claim outlived the lease. The mover may have
// moved money for them, so they are never re-executed automatically.
func (r *Runner) reap(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	reaped, err := r.store.ReapStaleClaims(ctx, now.Add(-lease), now)
	for _, sc := range reaped {
		log := logger.FromContext(ctx, r.logger).With(logger.FieldScheduleID, sc.ID)
		log.Warnw("Stale settlement claim paused",
			logger.FieldReason, schedule.ReasonOutcomeUnknown,
			"claimed_at", sc.ClaimedAt,
		)
		if _, err := r.attempts.AbandonRunning(ctx, sc.ID, schedule.ReasonOutcomeUnknown, now); err != nil {
			log.Warnw("Failed to abandon running attempts", logger.FieldError, err)
		}
		if sc.Status == schedule.StatusActive {
			e := events.ForSchedule(ctx, events.ScheduleAutoPaused, sc)
			e.Reason = schedule.ReasonOutcomeUnknown
			r.emitter.Emit(ctx, e)
		}
	}
	r.metrics.recordReaped(ctx, len(reaped))
	return len(reaped), err
}

// RetryNow clears retry bookkeeping on an active schedule and settles it
// immediately, outside any pass and its batch cap. A non-empty pin is used
// for this attempt and cached once it opens the signing key.
func (r *Runner) RetryNow(ctx context.Context, id, pin string) (settle.Result, error) {
	now := r.now()
	sc, err := r.store.Get(ctx, id)
	if err != nil {
		return settle.Result{}, err
	}
	if sc.Status != schedule.StatusActive {
		return settle.Result{}, errors.Wrapf(errors.ErrNotActive, "schedule %s is %s", id, sc.Status)
	}
	if sc.NextDueAt.After(now) {
		return settle.Result{}, errors.NewInvalidRequestError("schedule %s is not due until %s", id, sc.NextDueAt.Format(time.RFC3339))
	}
	if err := r.store.ResetRetry(ctx, id, now); err != nil {
		return settle.Result{}, err
	}

	runID := "manual-" + uuid.NewString()
	ctx = logger.WithScheduleID(logger.WithRunID(ctx, runID), id)
	res := r.settler.Settle(ctx, id, settle.Options{PIN: pin, RunID: runID})
	r.route(ctx, sc, res)
	return res, nil
}
