package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var ErrInsufficientBalance = errors.New("insufficient_balance")

const (
	CurrencyCredits = "credits"
	CurrencyReward  = "reward"
)

func (s *Store) CreateLedger(ctx context.Context, identity string, welcomeCredits int64, dailyQuota int, referralCode string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO ledgers (identity, credits, daily_matches_left, daily_reset_at, referral_code)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity) DO NOTHING`,
		identity, welcomeCredits, dailyQuota, nextMidnight(time.Now()), referralCode)
	return err
}

func (s *Store) GetLedger(ctx context.Context, identity string) (*Ledger, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT identity, credits, reward_points, daily_matches_left, daily_reset_at,
		       is_premium, ban_until, ban_count, report_count, COALESCE(referral_code, ''), created_at
		FROM ledgers WHERE identity = $1`, identity)
	var l Ledger
	err := row.Scan(&l.Identity, &l.Credits, &l.RewardPoints, &l.DailyMatchesLeft, &l.DailyResetAt,
		&l.IsPremium, &l.BanUntil, &l.BanCount, &l.ReportCount, &l.ReferralCode, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// AdjustCredits applies a spendable-balance delta and records the matching
// transaction row. A debit that would go negative fails with
// ErrInsufficientBalance and writes nothing.
func (s *Store) AdjustCredits(ctx context.Context, identity string, delta int64, txType, refType, refID string) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE ledgers SET credits = credits + $2
		WHERE identity = $1 AND credits + $2 >= 0
		RETURNING credits`, identity, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, lookupErr := s.GetLedger(ctx, identity); lookupErr != nil {
				return 0, lookupErr
			}
			return 0, ErrInsufficientBalance
		}
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, identity, type, amount, currency, ref_type, ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		NewID(), identity, txType, delta, CurrencyCredits, refType, refID); err != nil {
		return 0, err
	}
	return balance, tx.Commit(ctx)
}

// AdjustRewardPoints applies a reward-points delta, floored at zero.
func (s *Store) AdjustRewardPoints(ctx context.Context, identity string, delta int64, txType, refType, refID string) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var points int64
	err = tx.QueryRow(ctx, `
		UPDATE ledgers SET reward_points = GREATEST(0, reward_points + $2)
		WHERE identity = $1
		RETURNING reward_points`, identity, delta).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, identity, type, amount, currency, ref_type, ref_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		NewID(), identity, txType, delta, CurrencyReward, refType, refID); err != nil {
		return 0, err
	}
	return points, tx.Commit(ctx)
}

func (s *Store) SetPremium(ctx context.Context, identity string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE ledgers SET is_premium = true WHERE identity = $1`, identity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetBan(ctx context.Context, identity string, until time.Time, banCount int) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE ledgers SET ban_until = $2, ban_count = $3, report_count = 0
		WHERE identity = $1`, identity, until, banCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) IncrementReportCount(ctx context.Context, identity string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `
		UPDATE ledgers SET report_count = report_count + 1
		WHERE identity = $1
		RETURNING report_count`, identity).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

// ResetDailyMatches rolls the daily allowance forward. Callers invoke it
// lazily when they observe daily_reset_at in the past.
func (s *Store) ResetDailyMatches(ctx context.Context, identity string, quota int, resetAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE ledgers SET daily_matches_left = $2, daily_reset_at = $3
		WHERE identity = $1`, identity, quota, resetAt)
	return err
}

func (s *Store) ConsumeDailyMatch(ctx context.Context, identity string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE ledgers SET daily_matches_left = daily_matches_left - 1
		WHERE identity = $1 AND daily_matches_left > 0`, identity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (s *Store) FindIdentityByReferralCode(ctx context.Context, code string) (string, error) {
	var identity string
	err := s.Pool.QueryRow(ctx, `SELECT identity FROM ledgers WHERE referral_code = $1`, code).Scan(&identity)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return identity, err
}

// SetReferredBy links a redeemer to a referrer exactly once.
func (s *Store) SetReferredBy(ctx context.Context, identity, referrer string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE ledgers SET referred_by = $2
		WHERE identity = $1 AND referred_by IS NULL`, identity, referrer)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
