// Package events announces settlement outcomes. Publishing is fire and
// forget: an Emitter logs publish failures and never returns them, so a
// broken sink cannot undo a committed settlement.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/logger"
)

// Type names an outcome
type Type string

const (
	OccurrenceProcessed Type = "occurrence.processed"
	OccurrenceFailed    Type = "occurrence.failed"
	OccurrencePaused    Type = "occurrence.paused"
	ScheduleAutoPaused  Type = "schedule.auto-paused"
)

// Event is one outcome notification. Outcome-specific fields are empty when
// they do not apply.
type Event struct {
	Type       Type      `json:"type"`
	Time       time.Time `json:"time"`
	RunID      string    `json:"run_id,omitempty"`
	ScheduleID string    `json:"schedule_id"`
	PayerID    string    `json:"payer_id"`
	PayeeID    string    `json:"payee_id"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`

	// occurrence.processed
	ReceiptRef string     `json:"receipt_ref,omitempty"`
	Channel    string     `json:"channel,omitempty"`
	NextDueAt  *time.Time `json:"next_due_at,omitempty"`
	Completed  bool       `json:"completed,omitempty"`

	// occurrence.failed
	Error      string     `json:"error,omitempty"`
	ErrorClass string     `json:"error_class,omitempty"`
	Details    []string   `json:"details,omitempty"`
	Attempt    int        `json:"attempt,omitempty"`
	WillRetry  bool       `json:"will_retry,omitempty"`
	RetryAt    *time.Time `json:"retry_at,omitempty"`

	// occurrence.paused, schedule.auto-paused
	Reason string `json:"reason,omitempty"`
}

// Publisher delivers events somewhere
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every publisher. The first failure is returned with
// later ones attached as secondary errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			if first == nil {
				first = err
			} else {
				first = errors.WithSecondaryError(first, err)
			}
		}
	}
	return first
}

// Emitter publishes and swallows failures after logging them
type Emitter struct {
	pub    Publisher
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewEmitter wraps pub. A nil pub drops every event.
func NewEmitter(pub Publisher, log *zap.SugaredLogger) *Emitter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Emitter{pub: pub, logger: logger.AddEventSymbol(log), now: time.Now}
}

// Emit stamps e with the current time if unset and publishes it
func (em *Emitter) Emit(ctx context.Context, e Event) {
	if em == nil || em.pub == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = em.now().UTC()
	}
	if err := em.pub.Publish(ctx, e); err != nil {
		em.logger.Warnw("Event publish failed",
			"event", e.Type,
			logger.FieldScheduleID, e.ScheduleID,
			logger.FieldError, err,
		)
	}
}
