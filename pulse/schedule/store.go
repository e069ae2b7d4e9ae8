package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/ledger"
	"github.com/teranos/remit/pulse/occurrence"
)

// DefaultBatchSize caps one selection pass
const DefaultBatchSize = 50

// Store handles persistence of schedules and their receipts
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for stores sharing it
func (s *Store) DB() *sql.DB {
	return s.db
}

const scheduleColumns = `
	id, payer_id, payee_id, amount, currency, description, frequency, channel,
	start_at, end_at, next_due_at, status, rule, exclusions, pause_window,
	secret_verified, occurrence_count, attempt_count, failure_count,
	retry_at, last_error, paused_reason, paused_at, last_processed_at,
	claim_token, claimed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(column, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse %s", column)
	}
	return t.UTC(), nil
}

func parseNullTime(column string, raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(column, raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sc Schedule
	var amount, frequency, channel, status, rule, exclusions string
	var startAt, nextDueAt, createdAt, updatedAt string
	var endAt, pauseWindow, retryAt, lastError, pausedReason, pausedAt, lastProcessedAt, claimToken, claimedAt sql.NullString

	err := row.Scan(
		&sc.ID, &sc.PayerID, &sc.PayeeID, &amount, &sc.Currency, &sc.Description, &frequency, &channel,
		&startAt, &endAt, &nextDueAt, &status, &rule, &exclusions, &pauseWindow,
		&sc.SecretVerified, &sc.OccurrenceCount, &sc.Retry.AttemptCount, &sc.FailureCount,
		&retryAt, &lastError, &pausedReason, &pausedAt, &lastProcessedAt,
		&claimToken, &claimedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse errors indicate data corruption or schema mismatch
	if sc.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, errors.Wrapf(err, "failed to parse amount for schedule %s", sc.ID)
	}
	sc.Frequency = occurrence.Frequency(frequency)
	sc.Channel = ledger.Channel(channel)
	sc.Status = Status(status)
	sc.Retry.LastError = lastError.String
	sc.PausedReason = pausedReason.String
	sc.ClaimToken = claimToken.String

	if sc.Rule, err = occurrence.UnmarshalRule([]byte(rule)); err != nil {
		return nil, errors.Wrapf(err, "schedule %s", sc.ID)
	}
	if err := json.Unmarshal([]byte(exclusions), &sc.Exclusions); err != nil {
		return nil, errors.Wrapf(err, "failed to decode exclusions for schedule %s", sc.ID)
	}
	if pauseWindow.Valid && pauseWindow.String != "" {
		sc.Pause = &PauseWindow{}
		if err := json.Unmarshal([]byte(pauseWindow.String), sc.Pause); err != nil {
			return nil, errors.Wrapf(err, "failed to decode pause window for schedule %s", sc.ID)
		}
	}

	for _, f := range []struct {
		column string
		raw    string
		dst    *time.Time
	}{
		{"start_at", startAt, &sc.StartAt},
		{"next_due_at", nextDueAt, &sc.NextDueAt},
		{"created_at", createdAt, &sc.CreatedAt},
		{"updated_at", updatedAt, &sc.UpdatedAt},
	} {
		if *f.dst, err = parseTime(f.column, f.raw); err != nil {
			return nil, errors.Wrapf(err, "schedule %s", sc.ID)
		}
	}

	for _, f := range []struct {
		column string
		raw    sql.NullString
		dst    **time.Time
	}{
		{"end_at", endAt, &sc.EndAt},
		{"retry_at", retryAt, &sc.Retry.RetryAt},
		{"paused_at", pausedAt, &sc.PausedAt},
		{"last_processed_at", lastProcessedAt, &sc.LastProcessedAt},
		{"claimed_at", claimedAt, &sc.ClaimedAt},
	} {
		if *f.dst, err = parseNullTime(f.column, f.raw); err != nil {
			return nil, errors.Wrapf(err, "schedule %s", sc.ID)
		}
	}

	return &sc, nil
}

func encodePause(p *PauseWindow) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode pause window")
	}
	return string(data), nil
}

// Create validates and inserts a schedule. ID, NextDueAt and timestamps are
// filled in when empty; NextDueAt defaults to StartAt.
func (s *Store) Create(ctx context.Context, sc *Schedule) error {
	if sc.Channel == "" {
		sc.Channel = ledger.ChannelEither
	}
	if sc.Status == "" {
		sc.Status = StatusActive
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if sc.Status != StatusActive && sc.Status != StatusPaused {
		return errors.NewInvalidRequestError("cannot create a schedule in status %s", sc.Status)
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.NextDueAt.IsZero() {
		sc.NextDueAt = sc.StartAt
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now

	rule, err := occurrence.MarshalRule(sc.Rule)
	if err != nil {
		return err
	}
	exclusions, err := json.Marshal(sc.Exclusions)
	if err != nil {
		return errors.Wrap(err, "failed to encode exclusions")
	}
	pause, err := encodePause(sc.Pause)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, payer_id, payee_id, amount, currency, description, frequency, channel,
			start_at, end_at, next_due_at, status, rule, exclusions, pause_window,
			secret_verified, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.PayerID, sc.PayeeID, sc.Amount.String(), sc.Currency, sc.Description,
		string(sc.Frequency), string(sc.Channel),
		formatTime(sc.StartAt), nullTime(sc.EndAt), formatTime(sc.NextDueAt), string(sc.Status),
		string(rule), string(exclusions), pause,
		sc.SecretVerified, formatTime(now), formatTime(now),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", sc.ID)
	}
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	return getSchedule(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getSchedule(ctx context.Context, q queryRower, id string) (*Schedule, error) {
	sc, err := scanSchedule(q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("schedule %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return sc, nil
}

// ListOptions filters List
type ListOptions struct {
	Status  Status
	PayerID string
	Limit   int
}

// List returns schedules ordered by next due instant
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Schedule, error) {
	var where []string
	var args []interface{}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.PayerID != "" {
		where = append(where, "payer_id = ?")
		args = append(args, opts.PayerID)
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY next_due_at ASC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	return s.query(ctx, query, args...)
}

// ListDue returns up to limit schedules eligible for settlement at now,
// earliest due first. Claimed schedules are excluded; they belong to an
// attempt in flight.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Schedule, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	ts := formatTime(now)
	return s.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'active'
		  AND secret_verified = 1
		  AND next_due_at <= ?
		  AND (retry_at IS NULL OR retry_at <= ?)
		  AND claim_token IS NULL
		ORDER BY next_due_at ASC, id ASC
		LIMIT ?`, ts, ts, limit)
}

// GetNextDue returns the active schedule with the earliest next_due_at,
// or nil when there is none
func (s *Store) GetNextDue(ctx context.Context) (*Schedule, error) {
	out, err := s.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'active'
		ORDER BY next_due_at ASC, id ASC
		LIMIT 1`)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schedules")
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating schedules")
	}
	return out, nil
}

// Receipts returns a schedule's settled occurrences in order
func (s *Store) Receipts(ctx context.Context, scheduleID string) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, occurrence, channel, receipt_ref, amount, currency, settled_at
		FROM schedule_receipts
		WHERE schedule_id = ?
		ORDER BY occurrence ASC`, scheduleID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query receipts for %s", scheduleID)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		var channel, amount, settledAt string
		if err := rows.Scan(&r.ScheduleID, &r.Occurrence, &channel, &r.ReceiptRef, &amount, &r.Currency, &settledAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan receipt")
		}
		r.Channel = ledger.Channel(channel)
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, errors.Wrapf(err, "failed to parse receipt amount for %s", scheduleID)
		}
		if r.SettledAt, err = parseTime("settled_at", settledAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarises the schedule table
type Stats struct {
	DueCount         int
	RetryCount       int
	PausedCount      int
	ActiveCount      int
	ActivePayerCount int
	NextDueAt        *time.Time
	LastProcessedAt  *time.Time
}

// Stats computes counts as of now
func (s *Store) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	ts := formatTime(now)
	var st Stats
	var nextDue, lastProcessed sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'active' AND secret_verified = 1 AND next_due_at <= ?
				AND (retry_at IS NULL OR retry_at <= ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'active' AND retry_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'paused' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN status = 'active' THEN payer_id END),
			MIN(CASE WHEN status = 'active' THEN next_due_at END),
			MAX(last_processed_at)
		FROM schedules`, ts, ts,
	).Scan(&st.DueCount, &st.RetryCount, &st.PausedCount, &st.ActiveCount, &st.ActivePayerCount, &nextDue, &lastProcessed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute schedule stats")
	}

	if st.NextDueAt, err = parseNullTime("next_due_at", nextDue); err != nil {
		return nil, err
	}
	if st.LastProcessedAt, err = parseNullTime("last_processed_at", lastProcessed); err != nil {
		return nil, err
	}
	return &st, nil
}
