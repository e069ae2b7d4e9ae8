package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/remit/errors"
)

// AttemptStatus is the state of one settlement attempt
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptSettled   AttemptStatus = "settled"
	AttemptFailed    AttemptStatus = "failed"
	AttemptAbandoned AttemptStatus = "abandoned" // claim expired with the outcome unknown
)

// Attempt is one row of the settlement attempt log.
// An attempt is only recorded once a claim succeeds.
type Attempt struct {
	ID           string
	ScheduleID   string
	RunID        string
	Occurrence   int
	Status       AttemptStatus
	Channel      string
	ReceiptRef   string
	ErrorMessage string
	ErrorClass   string
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMS   int
}

// AttemptStore handles persistence of settlement attempt history
type AttemptStore struct {
	db *sql.DB
}

// NewAttemptStore creates a new attempt store
func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Start records a running attempt, assigning its ID if empty
func (s *AttemptStore) Start(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = AttemptRunning

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_attempts (id, schedule_id, run_id, occurrence, status, channel, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ScheduleID, a.RunID, a.Occurrence, string(a.Status), a.Channel, formatTime(a.StartedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to record attempt for %s", a.ScheduleID)
	}
	return nil
}

// Finish stores the final status of a started attempt
func (s *AttemptStore) Finish(ctx context.Context, a *Attempt, status AttemptStatus, completedAt time.Time) error {
	a.Status = status
	a.CompletedAt = &completedAt
	a.DurationMS = int(completedAt.Sub(a.StartedAt).Milliseconds())

	_, err := s.db.ExecContext(ctx, `
		UPDATE settlement_attempts
		SET status = ?, channel = ?, receipt_ref = ?, error_message = ?, error_class = ?,
		    completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(status), a.Channel, nullString(a.ReceiptRef), nullString(a.ErrorMessage), nullString(a.ErrorClass),
		formatTime(completedAt), a.DurationMS, a.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to finish attempt %s", a.ID)
	}
	return nil
}

// AbandonRunning marks a schedule's running attempts abandoned
func (s *AttemptStore) AbandonRunning(ctx context.Context, scheduleID, reason string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_attempts
		SET status = 'abandoned', error_message = ?, completed_at = ?
		WHERE schedule_id = ? AND status = 'running'`,
		reason, formatTime(now), scheduleID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to abandon attempts for %s", scheduleID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListAttempts returns a schedule's most recent attempts, newest first
func (s *AttemptStore) ListAttempts(ctx context.Context, scheduleID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule_id, run_id, occurrence, status, channel, receipt_ref, error_message, error_class,
		       started_at, completed_at, duration_ms
		FROM settlement_attempts
		WHERE schedule_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list attempts for %s", scheduleID)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		var status, startedAt string
		var receiptRef, errorMessage, errorClass, completedAt sql.NullString
		var durationMS sql.NullInt64
		if err := rows.Scan(&a.ID, &a.ScheduleID, &a.RunID, &a.Occurrence, &status, &a.Channel,
			&receiptRef, &errorMessage, &errorClass, &startedAt, &completedAt, &durationMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan attempt")
		}
		a.Status = AttemptStatus(status)
		a.ReceiptRef = receiptRef.String
		a.ErrorMessage = errorMessage.String
		a.ErrorClass = errorClass.String
		a.DurationMS = int(durationMS.Int64)
		if a.StartedAt, err = parseTime("started_at", startedAt); err != nil {
			return nil, err
		}
		if a.CompletedAt, err = parseNullTime("completed_at", completedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CleanupOldAttempts deletes finished attempts started more than
// retentionDays ago and returns how many were removed
func (s *AttemptStore) CleanupOldAttempts(ctx context.Context, retentionDays int, now time.Time) (int, error) {
	cutoff := formatTime(now.AddDate(0, 0, -retentionDays))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM settlement_attempts WHERE started_at < ? AND status != 'running'`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old attempts")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}
