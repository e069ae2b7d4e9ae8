// Package retry decides what happens to a schedule after a failed
// settlement attempt: retry later, or pause it for a human.
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/events"
	"github.com/teranos/remit/logger"
	"github.com/teranos/remit/pulse/schedule"
)

// Store is the failure bookkeeping view of the schedule store
type Store interface {
	ScheduleRetry(ctx context.Context, id string, attempt int, retryAt time.Time, lastErr string, now time.Time) error
	AutoPause(ctx context.Context, id, reason string, attempt int, lastErr string, now time.Time) (bool, error)
}

// Decision is what OnFailure did
type Decision struct {
	WillRetry bool
	RetryAt   *time.Time
	Attempt   int
	// Paused is set when this failure paused the schedule
	Paused bool
	Reason string
	Class  errors.Class
}

// Controller applies a Policy to failed attempts
type Controller struct {
	store   Store
	mu      sync.RWMutex
	policy  Policy
	emitter *events.Emitter
	logger  *zap.SugaredLogger
}

// NewController creates a controller
func NewController(store Store, policy Policy, emitter *events.Emitter, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Controller{store: store, policy: policy, emitter: emitter, logger: logger.AddPulseSymbol(log)}
}

// Policy returns the controller's escalation table
func (c *Controller) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// SetPolicy replaces the escalation table for subsequent failures
func (c *Controller) SetPolicy(p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p
}

// OnFailure records a failed attempt on sc, the schedule as it was claimed.
//
// Transient failures are retried after the policy delay until MaxAttempts
// consecutive failures, then the schedule is paused. Validation failures
// pause at once, as do authorization failures under AuthFailurePause;
// neither consumes retry budget. Conflicts are not failures and are ignored.
func (c *Controller) OnFailure(ctx context.Context, sc *schedule.Schedule, cause error, now time.Time) (Decision, error) {
	policy := c.Policy()
	class := errors.Classify(cause)
	d := Decision{Class: class, Attempt: sc.Retry.AttemptCount}
	if class == "" || class == errors.ClassConflict {
		return d, nil
	}

	log := logger.FromContext(ctx, c.logger).With(logger.FieldScheduleID, sc.ID)
	msg := cause.Error()

	var reason string
	switch {
	case class == errors.ClassValidation:
		reason = "settlement rejected: " + msg
	case class == errors.ClassAuthorization && policy.AuthFailure == AuthFailurePause:
		reason = "secret unusable: " + msg
	default:
		d.Attempt = sc.Retry.AttemptCount + 1
		if d.Attempt >= policy.MaxAttempts {
			reason = fmt.Sprintf("retries exhausted after %d attempts: %s", d.Attempt, msg)
		}
	}

	if reason == "" {
		retryAt := now.Add(policy.Delay(d.Attempt))
		if err := c.store.ScheduleRetry(ctx, sc.ID, d.Attempt, retryAt, msg, now); err != nil {
			if errors.Is(err, errors.ErrNotActive) {
				log.Infow("Schedule left active state, not retrying", logger.FieldError, err)
				c.emitFailed(ctx, sc, cause, d)
				return d, nil
			}
			return d, err
		}
		d.WillRetry = true
		d.RetryAt = &retryAt
		log.Warnw("Settlement failed, will retry",
			logger.FieldAttempt, d.Attempt,
			logger.FieldRetryAt, retryAt,
			logger.FieldErrorClass, class,
			logger.FieldError, msg,
		)
		c.emitFailed(ctx, sc, cause, d)
		return d, nil
	}

	paused, err := c.store.AutoPause(ctx, sc.ID, reason, d.Attempt, msg, now)
	if err != nil {
		return d, err
	}
	d.Paused = paused
	d.Reason = reason
	c.emitFailed(ctx, sc, cause, d)
	if !paused {
		return d, nil
	}

	log.Warnw("Schedule auto-paused",
		logger.FieldAttempt, d.Attempt,
		logger.FieldErrorClass, class,
		logger.FieldReason, reason,
	)
	e := events.ForSchedule(ctx, events.ScheduleAutoPaused, sc)
	e.Reason = reason
	e.Attempt = d.Attempt
	e.Error = msg
	e.ErrorClass = string(class)
	c.emitter.Emit(ctx, e)
	return d, nil
}

func (c *Controller) emitFailed(ctx context.Context, sc *schedule.Schedule, cause error, d Decision) {
	e := events.ForSchedule(ctx, events.OccurrenceFailed, sc)
	e.Error = cause.Error()
	e.ErrorClass = string(d.Class)
	e.Details = errors.GetAllDetails(cause)
	e.Attempt = d.Attempt
	e.WillRetry = d.WillRetry
	e.RetryAt = d.RetryAt
	c.emitter.Emit(ctx, e)
}
