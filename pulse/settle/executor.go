// Package settle runs one settlement attempt for one schedule: claim it,
// call the ledger mover once, and commit the result.
package settle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/remit/accounts"
	"github.com/teranos/remit/db"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/schedule"
	"github.com/teranos/remit/secret"
)

// Outcome of one Settle call
type Outcome string

const (
	// OutcomeSettled means the mover confirmed and the result was committed
	OutcomeSettled Outcome = "settled"
	// OutcomeFailed means the attempt failed before money moved; the
	// schedule is unchanged and the failure goes to the retry controller
	OutcomeFailed Outcome = "failed"
	// OutcomePaused means a pause blocked the attempt; not a failure
	OutcomePaused Outcome = "paused"
	// OutcomeSkipped means the schedule could not be claimed (not found,
	// not active, never verified); nothing was attempted
	OutcomeSkipped Outcome = "skipped"
	// OutcomeConflict means another attempt holds or already advanced it
	OutcomeConflict Outcome = "conflict"
	// OutcomeUnrecorded means the mover confirmed but the commit failed.
	// The claim is left in place for the reaper; never retry this.
	OutcomeUnrecorded Outcome = "unrecorded"
)

// Result describes one Settle call
type Result struct {
	ScheduleID string
	Outcome    Outcome
	// Schedule is the row as claimed, before it was advanced. Nil when
	// nothing was claimed.
	Schedule   *schedule.Schedule
	Occurrence int
	Channel    ledger.Channel
	ReceiptRef string
	NextDueAt  time.Time
	Completed  bool
	Reason     string // pause reason
	Err        error
	Duration   time.Duration
}

// Options for a single attempt
type Options struct {
	// PIN supplied by a human for this attempt; takes precedence over the cache
	PIN   string
	RunID string
}

// ScheduleStore is the settlement view of the schedule store
type ScheduleStore interface {
	Claim(ctx context.Context, id string, now time.Time) (*schedule.Claim, error)
	Commit(ctx context.Context, id string, st schedule.Settlement) error
	Release(ctx context.Context, id, token string) error
}

// AttemptLog records attempts
type AttemptLog interface {
	Start(ctx context.Context, a *schedule.Attempt) error
	Finish(ctx context.Context, a *schedule.Attempt, status schedule.AttemptStatus, completedAt time.Time) error
}

// KeySource rematerializes a payer's signing key
type KeySource interface {
	SigningKey(ctx context.Context, m secret.Material, inlinePIN string) ([]byte, error)
}

// Deps wires an Executor
type Deps struct {
	Schedules ScheduleStore
	Attempts  AttemptLog
	Accounts  accounts.Reader
	Keys      KeySource
	Router    *ledger.Router
	Limiter   *Limiter
	Logger    *zap.SugaredLogger
	Now       func() time.Time // defaults to time.Now
}

// Executor settles single schedules
type Executor struct {
	schedules ScheduleStore
	attempts  AttemptLog
	accounts  accounts.Reader
	keys      KeySource
	router    *ledger.Router
	limiter   *Limiter
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewExecutor creates an executor from d
func NewExecutor(d Deps) *Executor {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Limiter == nil {
		d.Limiter = NewLimiter(0)
	}
	return &Executor{
		schedules: d.Schedules,
		attempts:  d.Attempts,
		accounts:  d.Accounts,
		keys:      d.Keys,
		router:    d.Router,
		limiter:   d.Limiter,
		logger:    logger.AddLedgerSymbol(d.Logger),
		now:       d.Now,
	}
}

// Settle makes one attempt at the schedule's current occurrence.
//
// The mover is called at most once. Every outcome other than
// OutcomeSettled leaves next_due_at, the occurrence counter and the
// receipts untouched.
func (e *Executor) Settle(ctx context.Context, id string, opts Options) Result {
	start := e.now()
	res := Result{ScheduleID: id}
	log := logger.FromContext(ctx, e.logger).With(logger.FieldScheduleID, id)

	claim, err := e.schedules.Claim(ctx, id, start)
	if err != nil {
		res.Err = err
		res.Outcome = OutcomeSkipped
		if errors.Is(err, errors.ErrConflict) {
			res.Outcome = OutcomeConflict
		}
		if db.IsBusy(err) {
			log.Warnw("Database busy, schedule not claimed", logger.FieldError, err)
			return res
		}
		log.Debugw("Schedule not claimed", logger.FieldOutcome, res.Outcome, logger.FieldError, err)
		return res
	}
	res.Schedule = claim.Schedule
	if claim.Pause.Blocked {
		res.Outcome = OutcomePaused
		res.Reason = claim.Pause.Reason
		return res
	}

	sc := claim.Schedule
	res.Occurrence = sc.OccurrenceCount + 1
	attempt := &schedule.Attempt{
		ScheduleID: id,
		RunID:      opts.RunID,
		Occurrence: res.Occurrence,
		StartedAt:  start,
	}
	if err := e.attempts.Start(ctx, attempt); err != nil {
		e.release(ctx, log, id, claim.Token)
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	fail := func(err error) Result {
		e.release(ctx, log, id, claim.Token)
		attempt.ErrorMessage = err.Error()
		attempt.ErrorClass = string(errors.Classify(err))
		if ferr := e.attempts.Finish(ctx, attempt, schedule.AttemptFailed, e.now()); ferr != nil {
			log.Warnw("Failed to record attempt outcome", logger.FieldAttemptID, attempt.ID, logger.FieldError, ferr)
		}
		res.Outcome = OutcomeFailed
		res.Err = err
		res.Duration = e.now().Sub(start)
		return res
	}

	transfer, mover, err := e.prepare(ctx, sc, opts.PIN)
	if err != nil {
		return fail(err)
	}
	attempt.Channel = string(mover.Channel())

	if err := e.limiter.Wait(ctx); err != nil {
		return fail(err)
	}

	receipt, err := mover.Execute(ctx, transfer)
	if err != nil {
		return fail(errors.Wrapf(err, "%s transfer for schedule %s", mover.Channel(), id))
	}

	// Money has moved. From here on the claim is only released by a
	// successful commit or by the reaper.
	settledAt := e.now()
	next, pastEnd, err := sc.NextAfter(settledAt)
	if err != nil {
		log.Errorw("No next occurrence after settlement, completing schedule", logger.FieldError, err)
		next, pastEnd = settledAt, true
	}
	channel := receipt.Channel
	if channel == "" {
		channel = mover.Channel()
	}

	err = e.schedules.Commit(ctx, id, schedule.Settlement{
		Token:      claim.Token,
		Occurrence: res.Occurrence,
		Channel:    channel,
		ReceiptRef: receipt.Ref,
		Amount:     sc.Amount.String(),
		Currency:   sc.Currency,
		SettledAt:  settledAt,
		NextDueAt:  next,
		Completed:  pastEnd,
	})
	res.Channel = channel
	res.ReceiptRef = receipt.Ref
	res.Duration = e.now().Sub(start)
	if err != nil {
		log.Errorw("Transfer confirmed but settlement was not recorded",
			logger.FieldReceiptRef, receipt.Ref,
			logger.FieldChannel, channel,
			logger.FieldError, err,
		)
		res.Outcome = OutcomeUnrecorded
		res.Err = err
		return res
	}

	attempt.ReceiptRef = receipt.Ref
	attempt.Channel = string(channel)
	if err := e.attempts.Finish(ctx, attempt, schedule.AttemptSettled, e.now()); err != nil {
		log.Warnw("Failed to record attempt outcome", logger.FieldAttemptID, attempt.ID, logger.FieldError, err)
	}

	res.Outcome = OutcomeSettled
	res.NextDueAt = next
	res.Completed = pastEnd
	log.Infow("Occurrence settled",
		logger.FieldReceiptRef, receipt.Ref,
		logger.FieldChannel, channel,
		logger.FieldNextDueAt, next,
		logger.FieldDurationMS, res.Duration.Milliseconds(),
	)
	return res
}

// prepare resolves the parties, the signing key and the mover for sc
func (e *Executor) prepare(ctx context.Context, sc *schedule.Schedule, pin string) (ledger.Transfer, ledger.Mover, error) {
	payer, err := e.accounts.GetPayer(ctx, sc.PayerID)
	if err != nil {
		return ledger.Transfer{}, nil, err
	}
	payee, err := e.accounts.GetPayee(ctx, sc.PayeeID)
	if err != nil {
		return ledger.Transfer{}, nil, err
	}
	key, err := e.keys.SigningKey(ctx, payer.Material(), pin)
	if err != nil {
		return ledger.Transfer{}, nil, err
	}
	mover, err := e.router.Select(sc.Channel)
	if err != nil {
		return ledger.Transfer{}, nil, err
	}
	return ledger.Transfer{
		IdempotencyKey: sc.IdempotencyKey(),
		PayerAddress:   payer.RoutingAddress,
		PayerIdentity:  payer.IdentityHash,
		SigningKey:     key,
		PayeeAddress:   payee.RoutingAddress,
		Amount:         sc.Amount,
		Currency:       sc.Currency,
		Memo:           sc.Memo(),
	}, mover, nil
}

func (e *Executor) release(ctx context.Context, log *zap.SugaredLogger, id, token string) {
	if err := e.schedules.Release(context.WithoutCancel(ctx), id, token); err != nil {
		log.Warnw("Failed to release claim; the reaper will pause the schedule", logger.FieldError, err)
	}
}
