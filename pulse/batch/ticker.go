package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/remit/db"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/sym"
)

// Parser accepts standard five-field specs and descriptors like "@every 1m"
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DefaultSpec triggers a pass every minute
const DefaultSpec = "@every 1m"

// Ticker triggers settlement passes on a cron schedule
type Ticker struct {
	runner   *Runner
	spec     string
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastDueCount    int
	lastStats       *RunStats
}

// NewTicker creates a ticker for runner firing on spec
func NewTicker(runner *Runner, spec string, log *zap.SugaredLogger) (*Ticker, error) {
	return NewTickerWithContext(context.Background(), runner, spec, log)
}

// NewTickerWithContext creates a ticker whose passes run under ctx
func NewTickerWithContext(ctx context.Context, runner *Runner, spec string, log *zap.SugaredLogger) (*Ticker, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if _, err := Parser.Parse(spec); err != nil {
		return nil, errors.Wrapf(err, "invalid pulse schedule %q", spec)
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	t := &Ticker{
		runner:       runner,
		spec:         spec,
		ctx:          tickerCtx,
		cancel:       cancel,
		pulseLog:     logger.AddPulseSymbol(log),
		lastDueCount: -1,
	}
	t.cron = cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)
	if _, err := t.cron.AddFunc(spec, t.tick); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to schedule pulse %q", spec)
	}
	return t, nil
}

// Every runs fn on its own cron spec alongside the passes, under the
// ticker's context. Call before Start.
func (t *Ticker) Every(spec, name string, fn func(ctx context.Context)) error {
	_, err := t.cron.AddFunc(spec, func() {
		if t.ctx.Err() != nil {
			return
		}
		t.pulseLog.Debugw("Running maintenance job", "job", name)
		fn(t.ctx)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule %s on %q", name, spec)
	}
	return nil
}

// Start begins triggering passes
func (t *Ticker) Start() {
	t.cron.Start()
	t.pulseLog.Infow("Pulse ticker started", "schedule", t.spec)
}

// Stop stops triggering, waits for a running pass to finish, then cancels
// the ticker context
func (t *Ticker) Stop() {
	<-t.cron.Stop().Done()
	t.cancel()
	t.pulseLog.Infow("Pulse ticker stopped")
}

// tick runs one pass
func (t *Ticker) tick() {
	now := t.runner.now()
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	tick := t.ticksSinceStart
	t.mu.Unlock()

	t.logNextDue(now)

	stats, err := t.runner.RunOnce(t.ctx)
	if errors.Is(err, ErrPassInProgress) {
		t.pulseLog.Debugw("Previous pass still running, skipping tick", "tick", tick)
		return
	}
	if db.IsDatabaseClosed(err) {
		t.pulseLog.Debugw("Database closed, skipping tick", "tick", tick)
		return
	}
	if err != nil && t.ctx.Err() == nil {
		t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, "tick", tick)
	}
	if stats != nil {
		t.mu.Lock()
		t.lastStats = stats
		t.mu.Unlock()
	}
}

// logNextDue logs the time until the next due settlement when the due
// count has changed since the last tick
func (t *Ticker) logNextDue(now time.Time) {
	st, err := t.runner.store.Stats(t.ctx, now)
	if err != nil {
		t.pulseLog.Warnw("Failed to read schedule stats", logger.FieldError, err)
		return
	}

	t.mu.Lock()
	changed := st.DueCount != t.lastDueCount
	t.lastDueCount = st.DueCount
	t.mu.Unlock()
	if !changed {
		return
	}

	indicator := ""
	if st.DueCount > 0 {
		// one glyph per five due schedules, capped
		n := st.DueCount/5 + 1
		if n > 20 {
			n = 20
		}
		indicator = strings.Repeat(sym.Pulse+" ", n)
	}

	next, err := t.runner.store.GetNextDue(t.ctx)
	if err != nil {
		t.pulseLog.Warnw("Failed to read next due schedule", logger.FieldError, err)
		return
	}
	if next == nil {
		t.pulseLog.Infow(indicator + "Pulse - no active schedules")
		return
	}
	until := next.NextDueAt.Sub(now)
	if until < 0 {
		until = 0
	}
	msg := fmt.Sprintf("%sPulse - next settlement due in %s (%s)", indicator, until.Round(time.Second), next.ID)
	if st.DueCount > 0 {
		msg += fmt.Sprintf(", %d due", st.DueCount)
	}
	if st.RetryCount > 0 {
		msg += fmt.Sprintf(", %d awaiting retry", st.RetryCount)
	}
	t.pulseLog.Infow(msg)
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"schedule":          t.spec,
	}
	if t.lastStats != nil {
		out["last_run_id"] = t.lastStats.RunID
		out["last_processed"] = t.lastStats.Processed
		out["last_failed"] = t.lastStats.Failed
	}
	return out
}

// cronLogger adapts zap to cron's logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, logger.FieldError, err)...)
}
