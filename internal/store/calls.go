package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateCall(ctx context.Context, rec CallRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO calls (id, participant_a, participant_b, mood_a, base_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ParticipantA, rec.ParticipantB, rec.MoodA, rec.BaseSeconds, rec.Status)
	return err
}

func (s *Store) MarkCallStarted(ctx context.Context, callID string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE calls SET started_at = $2, status = 'running'
		WHERE id = $1 AND started_at IS NULL`, callID, at)
	return err
}

func (s *Store) FinishCall(ctx context.Context, callID, endReason string, elapsedSeconds int, endedAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE calls SET status = 'ended', end_reason = $2, elapsed_seconds = $3, ended_at = $4
		WHERE id = $1 AND status <> 'ended'`, callID, endReason, elapsedSeconds, endedAt)
	return err
}

func (s *Store) GetCall(ctx context.Context, callID string) (*CallRecord, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, participant_a, participant_b, mood_a, base_seconds, started_at,
		       elapsed_seconds, status, end_reason, created_at, ended_at
		FROM calls WHERE id = $1`, callID)
	var c CallRecord
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.MoodA, &c.BaseSeconds, &c.StartedAt,
		&c.ElapsedSeconds, &c.Status, &c.EndReason, &c.CreatedAt, &c.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) InsertExtension(ctx context.Context, rec ExtensionRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO call_extensions (id, call_id, purchaser, minutes, cost_credits, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.CallID, rec.Purchaser, rec.Minutes, rec.CostCredits, rec.PurchasedAt)
	return err
}

// MarkExtensionRefunded records the refund once; a second call for the same
// extension affects no rows.
func (s *Store) MarkExtensionRefunded(ctx context.Context, extensionID string, refundedPts int64) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE call_extensions SET refunded_pts = $2
		WHERE id = $1 AND refunded_pts = 0`, extensionID, refundedPts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertReport(ctx context.Context, callID, reporter, reported string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO reports (id, call_id, reporter, reported)
		VALUES ($1, $2, $3, $4)`, NewID(), callID, reporter, reported)
	return err
}
