package schedule

import (
	"context"
	"time"

	"github.com/teranos/remit/errors"
)

// transition moves a schedule to status to, applying the extra assignments
// in set. The update is conditional on the status read beforehand.
func (s *Store) transition(ctx context.Context, id string, to Status, now time.Time, set string, args ...interface{}) (*Schedule, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, to) {
		return nil, errors.NewInvalidRequestError("schedule %s cannot move from %s to %s", id, cur.Status, to)
	}

	params := append([]interface{}{string(to), formatTime(now)}, args...)
	params = append(params, id, string(cur.Status))
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET status = ?, updated_at = ?`+set+` WHERE id = ? AND status = ?`, params...)
	if err != nil {
		return nil, errors.Wrapf(err, "move schedule %s to %s", id, to)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, errors.Wrapf(errors.ErrConflict, "schedule %s changed concurrently", id)
	}
	return s.Get(ctx, id)
}

// Pause suspends an active schedule until Resume
func (s *Store) Pause(ctx context.Context, id, reason string, now time.Time) (*Schedule, error) {
	if reason == "" {
		reason = "paused by user"
	}
	return s.transition(ctx, id, StatusPaused, now, `, paused_reason = ?, paused_at = ?`, reason, formatTime(now))
}

// Resume reactivates a paused schedule and resets its retry bookkeeping.
// An overdue next_due_at is kept so the missed occurrence settles once on
// the next pass.
func (s *Store) Resume(ctx context.Context, id string, now time.Time) (*Schedule, error) {
	return s.transition(ctx, id, StatusActive, now,
		`, attempt_count = 0, retry_at = NULL, last_error = NULL, paused_reason = NULL, paused_at = NULL`)
}

// Cancel ends a schedule permanently
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (*Schedule, error) {
	return s.transition(ctx, id, StatusCancelled, now, `, retry_at = NULL`)
}

// SetPauseWindow configures a temporary pause window. A nil window clears it.
func (s *Store) SetPauseWindow(ctx context.Context, id string, w *PauseWindow, now time.Time) error {
	if w != nil && w.End.Before(w.Start) {
		return errors.NewInvalidRequestError("pause window ends before it starts")
	}
	encoded, err := encodePause(w)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET pause_window = ?, updated_at = ?
		WHERE id = ? AND status IN ('active', 'paused')`,
		encoded, formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "set pause window on %s", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return s.notUpdatable(ctx, id)
	}
	return nil
}

// ResetRetry clears retry bookkeeping so an active schedule is eligible
// again as soon as it is due
func (s *Store) ResetRetry(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET attempt_count = 0, retry_at = NULL, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'active'`,
		formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "reset retry on %s", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return s.notUpdatable(ctx, id)
	}
	return nil
}

// SetSecretVerified records whether the payer has authorised unattended signing
func (s *Store) SetSecretVerified(ctx context.Context, id string, verified bool, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET secret_verified = ?, updated_at = ? WHERE id = ?`,
		verified, formatTime(now), id)
	if err != nil {
		return errors.Wrapf(err, "set secret verified on %s", id)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return errors.NewNotFoundError("schedule %s not found", id)
	}
	return nil
}

// notUpdatable explains why a conditional update touched no row
func (s *Store) notUpdatable(ctx context.Context, id string) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(errors.ErrNotActive, "schedule %s is %s", id, cur.Status)
}
