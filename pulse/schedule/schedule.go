// Package schedule holds recurring transfer definitions and their execution
// state, and the store that selects, claims and advances them.
package schedule

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/pulse/occurrence"
)

// Status is a schedule's lifecycle state
type Status string

const (
	StatusActive    Status = "active"    // eligible for settlement when due
	StatusPaused    Status = "paused"    // by a user or by retry exhaustion; needs resume
	StatusCancelled Status = "cancelled" // terminal
	StatusCompleted Status = "completed" // terminal, end reached
)

// CanTransition reports whether from -> to is a legal status change.
// active and paused are mutually reachable; cancelled and completed are terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusPaused || to == StatusCancelled || to == StatusCompleted
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// PauseWindow suspends settlement between Start and End inclusive
type PauseWindow struct {
	Enabled bool      `json:"enabled"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Reason  string    `json:"reason,omitempty"`
}

// Retry is the bookkeeping left by failed attempts
type Retry struct {
	RetryAt      *time.Time
	AttemptCount int
	LastError    string
}

// Schedule is a recurring transfer and its mutable execution state
type Schedule struct {
	ID          string
	PayerID     string
	PayeeID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Channel     ledger.Channel

	Frequency  occurrence.Frequency
	Rule       occurrence.Rule
	Exclusions occurrence.Exclusions
	Pause      *PauseWindow

	StartAt   time.Time
	EndAt     *time.Time
	NextDueAt time.Time
	Status    Status

	SecretVerified  bool
	OccurrenceCount int
	FailureCount    int
	Retry           Retry
	PausedReason    string
	PausedAt        *time.Time
	LastProcessedAt *time.Time

	// Set while a settlement attempt holds the schedule
	ClaimToken string
	ClaimedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Receipt records one settled occurrence
type Receipt struct {
	ScheduleID string
	Occurrence int
	Channel    ledger.Channel
	ReceiptRef string
	Amount     decimal.Decimal
	Currency   string
	SettledAt  time.Time
}

var currencyPattern = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)

// Validate checks the invariants a schedule must satisfy at creation
func (s *Schedule) Validate() error {
	if s.PayerID == "" || s.PayeeID == "" {
		return errors.NewInvalidRequestError("payer and payee are required")
	}
	if !s.Amount.IsPositive() {
		return errors.NewInvalidRequestError("amount must be positive, got %s", s.Amount)
	}
	if !currencyPattern.MatchString(s.Currency) {
		return errors.NewInvalidRequestError("invalid currency code %q", s.Currency)
	}
	if _, err := ledger.ParseChannel(string(s.Channel)); err != nil {
		return err
	}
	if s.StartAt.IsZero() {
		return errors.NewInvalidRequestError("start time is required")
	}
	if s.EndAt != nil && !s.EndAt.After(s.StartAt) {
		return errors.NewInvalidRequestError("end %s must be after start %s", s.EndAt.Format(time.RFC3339), s.StartAt.Format(time.RFC3339))
	}
	if s.Rule == nil {
		return errors.NewInvalidRequestError("rule is required")
	}
	if s.Rule.Frequency() != s.Frequency {
		return errors.NewInvalidRequestError("rule is for %s but frequency is %s", s.Rule.Frequency(), s.Frequency)
	}
	if err := occurrence.Validate(s.Rule, s.Exclusions); err != nil {
		return err
	}
	if s.Pause != nil && s.Pause.Enabled && s.Pause.End.Before(s.Pause.Start) {
		return errors.NewInvalidRequestError("pause window ends before it starts")
	}
	return nil
}

// Eligible reports whether the schedule may be settled automatically at now
func (s *Schedule) Eligible(now time.Time) bool {
	return s.Status == StatusActive &&
		s.SecretVerified &&
		!s.NextDueAt.After(now) &&
		(s.Retry.RetryAt == nil || !s.Retry.RetryAt.After(now))
}

// IdempotencyKey identifies the occurrence the next settlement would record
func (s *Schedule) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", s.ID, s.OccurrenceCount+1)
}

// NextAfter computes the next due instant after ref and whether it lies
// past the schedule's end
func (s *Schedule) NextAfter(ref time.Time) (next time.Time, pastEnd bool, err error) {
	next, err = occurrence.Next(ref, s.Rule, s.Exclusions)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "next occurrence for %s", s.ID)
	}
	return next, s.EndAt != nil && next.After(*s.EndAt), nil
}

// Memo is the transfer memo sent with each occurrence
func (s *Schedule) Memo() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("%s %s %s", s.Frequency, s.Amount, s.Currency)
}
