package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// Store wraps DB access.
type Store struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// EnsureSchema creates the tables on first boot. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledgers (
	identity            TEXT PRIMARY KEY,
	credits             BIGINT NOT NULL DEFAULT 0,
	reward_points       BIGINT NOT NULL DEFAULT 0,
	daily_matches_left  INT NOT NULL DEFAULT 0,
	daily_reset_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	is_premium          BOOLEAN NOT NULL DEFAULT false,
	ban_until           TIMESTAMPTZ,
	ban_count           INT NOT NULL DEFAULT 0,
	report_count        INT NOT NULL DEFAULT 0,
	referral_code       TEXT UNIQUE,
	referred_by         TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS calls (
	id               TEXT PRIMARY KEY,
	participant_a    TEXT NOT NULL,
	participant_b    TEXT NOT NULL,
	mood_a           TEXT NOT NULL,
	base_seconds     INT NOT NULL,
	started_at       TIMESTAMPTZ,
	elapsed_seconds  INT NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	end_reason       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at         TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS call_extensions (
	id            TEXT PRIMARY KEY,
	call_id       TEXT NOT NULL REFERENCES calls(id),
	purchaser     TEXT NOT NULL,
	minutes       INT NOT NULL,
	cost_credits  BIGINT NOT NULL,
	refunded_pts  BIGINT NOT NULL DEFAULT 0,
	purchased_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	identity    TEXT NOT NULL,
	type        TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	currency    TEXT NOT NULL,
	ref_type    TEXT NOT NULL DEFAULT '',
	ref_id      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS reports (
	id          TEXT PRIMARY KEY,
	call_id     TEXT NOT NULL,
	reporter    TEXT NOT NULL,
	reported    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transactions_identity ON transactions(identity, created_at);
CREATE INDEX IF NOT EXISTS idx_calls_participants ON calls(participant_a, participant_b);
`)
	return err
}
