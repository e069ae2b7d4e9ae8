package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/ledger"
)

// ReasonOutcomeUnknown is recorded when a claim outlives its lease: the
// mover may or may not have moved money, so the schedule waits for a human
const ReasonOutcomeUnknown = "settlement outcome unknown"

// Claim is the result of claiming a schedule for one settlement attempt.
// When Pause.Blocked is set nothing was claimed and Token is empty.
type Claim struct {
	Schedule *Schedule
	Token    string
	Pause    PauseDecision
}

// Claim re-reads the schedule in a transaction and, if it is still active,
// due and unclaimed, stamps a claim token on it.
//
// Errors: ErrNotFound, ErrNotActive for cancelled or completed schedules,
// ErrSecretRequired when no secret was ever verified, ErrConflict when
// another attempt holds the claim or already advanced the schedule.
// A pause (status or window) is not an error: the returned Claim carries
// the decision and nothing is persisted. An expired pause window is cleared
// in the same transaction.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (*Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "begin claim for %s", id)
	}
	defer tx.Rollback()

	sc, err := getSchedule(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case sc.Status == StatusPaused:
		return &Claim{Schedule: sc, Pause: EvaluatePause(sc, now)}, nil
	case sc.Status != StatusActive:
		return nil, errors.Wrapf(errors.ErrNotActive, "schedule %s is %s", id, sc.Status)
	case sc.ClaimToken != "":
		return nil, errors.Wrapf(errors.ErrConflict, "schedule %s is claimed by another attempt", id)
	case !sc.SecretVerified:
		return nil, errors.Wrapf(errors.ErrSecretRequired, "schedule %s has no verified secret", id)
	case !sc.Eligible(now):
		return nil, errors.Wrapf(errors.ErrConflict, "schedule %s is not due at %s", id, formatTime(now))
	}

	decision := EvaluatePause(sc, now)
	if decision.Blocked {
		return &Claim{Schedule: sc, Pause: decision}, nil
	}
	if decision.ShouldAutoClear {
		if _, err := tx.ExecContext(ctx, `UPDATE schedules SET pause_window = NULL WHERE id = ?`, id); err != nil {
			return nil, errors.Wrapf(err, "clear expired pause window for %s", id)
		}
		sc.Pause = nil
	}

	token := uuid.NewString()
	res, err := tx.ExecContext(ctx, `
		UPDATE schedules
		SET claim_token = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active' AND claim_token IS NULL`,
		token, formatTime(now), formatTime(now), id)
	if err != nil {
		return nil, errors.Wrapf(err, "claim schedule %s", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, errors.Wrapf(errors.ErrConflict, "schedule %s changed while claiming", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "commit claim for %s", id)
	}

	sc.ClaimToken = token
	sc.ClaimedAt = &now
	return &Claim{Schedule: sc, Token: token, Pause: decision}, nil
}

// Settlement is the result of a successful mover call
type Settlement struct {
	Token      string
	Occurrence int
	Channel    ledger.Channel
	ReceiptRef string
	Amount     string
	Currency   string
	SettledAt  time.Time
	NextDueAt  time.Time
	Completed  bool
}

// Commit records a settled occurrence: it appends the receipt, advances
// next_due_at and the occurrence counter, resets retry bookkeeping and
// releases the claim, all in one transaction guarded by the claim token.
//
// A concurrent pause or cancel is preserved; the money has moved so the
// receipt is recorded regardless.
func (s *Store) Commit(ctx context.Context, id string, st Settlement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin commit for %s", id)
	}
	defer tx.Rollback()

	now := formatTime(st.SettledAt)
	res, err := tx.ExecContext(ctx, `
		UPDATE schedules
		SET occurrence_count = occurrence_count + 1,
		    attempt_count = 0,
		    last_error = NULL,
		    retry_at = NULL,
		    next_due_at = ?,
		    status = CASE WHEN status = 'active' AND ? THEN 'completed' ELSE status END,
		    last_processed_at = ?,
		    claim_token = NULL,
		    claimed_at = NULL,
		    updated_at = ?
		WHERE id = ? AND claim_token = ? AND occurrence_count = ?`,
		formatTime(st.NextDueAt), st.Completed, now, now,
		id, st.Token, st.Occurrence-1)
	if err != nil {
		return errors.Wrapf(err, "advance schedule %s", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return errors.Wrapf(errors.ErrConflict, "claim on schedule %s was lost before commit", id)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schedule_receipts (schedule_id, occurrence, channel, receipt_ref, amount, currency, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, st.Occurrence, string(st.Channel), st.ReceiptRef, st.Amount, st.Currency, now); err != nil {
		return errors.Wrapf(err, "record receipt for %s occurrence %d", id, st.Occurrence)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit settlement for %s", id)
	}
	return nil
}

// Release drops a claim without changing anything else
func (s *Store) Release(ctx context.Context, id, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET claim_token = NULL, claimed_at = NULL
		WHERE id = ? AND claim_token = ?`, id, token)
	if err != nil {
		return errors.Wrapf(err, "release claim on %s", id)
	}
	return nil
}

// ScheduleRetry records a failed attempt that will be retried at retryAt
func (s *Store) ScheduleRetry(ctx context.Context, id string, attempt int, retryAt time.Time, lastErr string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET attempt_count = ?, retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`,
		attempt, formatTime(retryAt), lastErr, formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "schedule retry for %s", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return errors.Wrapf(errors.ErrNotActive, "schedule %s left active state before retry was recorded", id)
	}
	return nil
}

// AutoPause pauses an active schedule after a terminal failure, clearing
// any retry and bumping the lifetime failure counter. It reports whether
// the schedule was active.
func (s *Store) AutoPause(ctx context.Context, id, reason string, attempt int, lastErr string, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET status = 'paused',
		    paused_reason = ?,
		    paused_at = ?,
		    retry_at = NULL,
		    attempt_count = ?,
		    last_error = ?,
		    failure_count = failure_count + 1,
		    claim_token = NULL,
		    claimed_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'active'`,
		reason, ts, attempt, nullString(lastErr), ts, id)
	if err != nil {
		return false, errors.Wrapf(err, "auto-pause %s", id)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReapStaleClaims pauses schedules whose claim was taken before cutoff and
// never committed or released. It returns the schedules it paused, as they
// were before pausing.
func (s *Store) ReapStaleClaims(ctx context.Context, cutoff, now time.Time) ([]*Schedule, error) {
	stale, err := s.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE claim_token IS NOT NULL AND claimed_at < ?
		ORDER BY claimed_at ASC`, formatTime(cutoff))
	if err != nil {
		return nil, err
	}

	ts := formatTime(now)
	var reaped []*Schedule
	for _, sc := range stale {
		res, err := s.db.ExecContext(ctx, `
			UPDATE schedules
			SET status = CASE WHEN status = 'active' THEN 'paused' ELSE status END,
			    paused_reason = CASE WHEN status = 'active' THEN ? ELSE paused_reason END,
			    paused_at = CASE WHEN status = 'active' THEN ? ELSE paused_at END,
			    retry_at = NULL,
			    claim_token = NULL,
			    claimed_at = NULL,
			    updated_at = ?
			WHERE id = ? AND claim_token = ?`,
			ReasonOutcomeUnknown, ts, ts, sc.ID, sc.ClaimToken)
		if err != nil {
			return reaped, errors.Wrapf(err, "reap claim on %s", sc.ID)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			reaped = append(reaped, sc)
		}
	}
	return reaped, nil
}
