// Package ledger owns every mutation of a participant's balance, reward
// points, allowance, premium flag, and ban fields. Nothing else in the
// server writes economy state.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ventline/internal/store"
)

// Store is the slice of persistence the ledger needs. *store.Store satisfies
// it; tests substitute an in-memory fake.
type Store interface {
	CreateLedger(ctx context.Context, identity string, welcomeCredits int64, dailyQuota int, referralCode string) error
	GetLedger(ctx context.Context, identity string) (*store.Ledger, error)
	AdjustCredits(ctx context.Context, identity string, delta int64, txType, refType, refID string) (int64, error)
	AdjustRewardPoints(ctx context.Context, identity string, delta int64, txType, refType, refID string) (int64, error)
	SetPremium(ctx context.Context, identity string) error
	SetBan(ctx context.Context, identity string, until time.Time, banCount int) error
	IncrementReportCount(ctx context.Context, identity string) (int, error)
	ResetDailyMatches(ctx context.Context, identity string, quota int, resetAt time.Time) error
	ConsumeDailyMatch(ctx context.Context, identity string) error
	FindIdentityByReferralCode(ctx context.Context, code string) (string, error)
	SetReferredBy(ctx context.Context, identity, referrer string) (bool, error)
	InsertReport(ctx context.Context, callID, reporter, reported string) error
	InsertExtension(ctx context.Context, rec store.ExtensionRecord) error
	MarkExtensionRefunded(ctx context.Context, extensionID string, refundedPts int64) (bool, error)
}

type Config struct {
	WelcomeCredits   int64
	DailyQuota       int
	MinuteRewardPts  int64
	ReportPenaltyPts int64
	ReferralCredits  int64
	ShuffleCost      int64
	PremiumCost      int64
	RefundMinUnused  time.Duration
}

type Ledger struct {
	store Store
	cfg   Config
}

func New(s Store, cfg Config) *Ledger {
	return &Ledger{store: s, cfg: cfg}
}

// Register mints a durable identity with a seeded ledger row and a referral
// code. Idempotent at the store layer; calling twice mints two identities.
func (l *Ledger) Register(ctx context.Context) (string, *store.Ledger, error) {
	identity := uuid.NewString()
	code := strings.ToLower(store.NewID()[18:])
	if err := l.store.CreateLedger(ctx, identity, l.cfg.WelcomeCredits, l.cfg.DailyQuota, code); err != nil {
		return "", nil, err
	}
	row, err := l.store.GetLedger(ctx, identity)
	if err != nil {
		return "", nil, err
	}
	return identity, row, nil
}

// Snapshot returns the ledger row, lazily rolling the daily allowance
// forward when its reset time has passed.
func (l *Ledger) Snapshot(ctx context.Context, identity string) (*store.Ledger, error) {
	row, err := l.store.GetLedger(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownIdentity
		}
		return nil, err
	}
	now := time.Now()
	if row.DailyResetAt.Before(now) {
		resetAt := row.DailyResetAt
		for resetAt.Before(now) {
			resetAt = resetAt.Add(24 * time.Hour)
		}
		if err := l.store.ResetDailyMatches(ctx, identity, l.cfg.DailyQuota, resetAt); err != nil {
			return nil, err
		}
		row.DailyMatchesLeft = l.cfg.DailyQuota
		row.DailyResetAt = resetAt
	}
	return row, nil
}

// ConsumeMatch burns one daily match for non-premium identities.
func (l *Ledger) ConsumeMatch(ctx context.Context, identity string) error {
	row, err := l.Snapshot(ctx, identity)
	if err != nil {
		return err
	}
	if row.IsPremium {
		return nil
	}
	if err := l.store.ConsumeDailyMatch(ctx, identity); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return ErrQuotaExhausted
		}
		return err
	}
	return nil
}

// Purchase credits spendable balance after an out-of-band payment.
func (l *Ledger) Purchase(ctx context.Context, identity string, credits int64, receiptID string) (int64, error) {
	if credits <= 0 {
		return 0, ErrInsufficientBalance
	}
	return l.adjustCredits(ctx, identity, credits, "purchase", "receipt", receiptID)
}

// DebitExtension charges an extension purchase and archives its record.
func (l *Ledger) DebitExtension(ctx context.Context, identity, callID, extensionID string, minutes int, cost int64) (int64, error) {
	balance, err := l.adjustCredits(ctx, identity, -cost, "extension_debit", "call", callID)
	if err != nil {
		return 0, err
	}
	err = l.store.InsertExtension(ctx, store.ExtensionRecord{
		ID:          extensionID,
		CallID:      callID,
		Purchaser:   identity,
		Minutes:     minutes,
		CostCredits: cost,
		PurchasedAt: time.Now(),
	})
	return balance, err
}

// RefundUnused credits back the unused share of one extension as reward
// points. Refunds below the minimum-unused threshold are dropped, and the
// store gate makes a second refund of the same extension a no-op.
func (l *Ledger) RefundUnused(ctx context.Context, identity, extensionID string, minutes int, cost int64, unused time.Duration) (int64, bool, error) {
	if minutes <= 0 || unused < l.cfg.RefundMinUnused {
		return 0, false, nil
	}
	unusedMinutes := int64(unused / time.Minute)
	if unusedMinutes > int64(minutes) {
		unusedMinutes = int64(minutes)
	}
	refund := unusedMinutes * cost / int64(minutes)
	if refund <= 0 {
		return 0, false, nil
	}
	applied, err := l.store.MarkExtensionRefunded(ctx, extensionID, refund)
	if err != nil || !applied {
		return 0, false, err
	}
	if _, err := l.store.AdjustRewardPoints(ctx, identity, refund, "extension_refund", "extension", extensionID); err != nil {
		return 0, false, err
	}
	return refund, true, nil
}

// MinuteReward grants the per-elapsed-minute reward. The caller suppresses
// duplicate minute marks; this just applies the delta.
func (l *Ledger) MinuteReward(ctx context.Context, identity, callID string, minute int) error {
	_, err := l.store.AdjustRewardPoints(ctx, identity, l.cfg.MinuteRewardPts, "minute_reward", "call", callID)
	return err
}

// ReportPenalty records a report against an identity and returns the new
// report tally for the ban policy.
func (l *Ledger) ReportPenalty(ctx context.Context, callID, reporter, reported string) (int, error) {
	if err := l.store.InsertReport(ctx, callID, reporter, reported); err != nil {
		return 0, err
	}
	if _, err := l.store.AdjustRewardPoints(ctx, reported, -l.cfg.ReportPenaltyPts, "report_penalty", "call", callID); err != nil {
		return 0, err
	}
	return l.store.IncrementReportCount(ctx, reported)
}

// ApplyBan persists a ban window computed by the enforcer.
func (l *Ledger) ApplyBan(ctx context.Context, identity string, until time.Time, banCount int) error {
	return l.store.SetBan(ctx, identity, until, banCount)
}

// ActivatePremium debits the premium price and flips the flag.
func (l *Ledger) ActivatePremium(ctx context.Context, identity string) (int64, error) {
	row, err := l.Snapshot(ctx, identity)
	if err != nil {
		return 0, err
	}
	if row.IsPremium {
		return row.Credits, ErrAlreadyPremium
	}
	balance, err := l.adjustCredits(ctx, identity, -l.cfg.PremiumCost, "premium_activate", "", "")
	if err != nil {
		return 0, err
	}
	return balance, l.store.SetPremium(ctx, identity)
}

// Shuffle charges the queue-entry reroll price.
func (l *Ledger) Shuffle(ctx context.Context, identity string) (int64, error) {
	return l.adjustCredits(ctx, identity, -l.cfg.ShuffleCost, "shuffle", "", "")
}

// RedeemReferral credits both sides of a referral once per redeemer.
func (l *Ledger) RedeemReferral(ctx context.Context, identity, code string) (int64, error) {
	owner, err := l.store.FindIdentityByReferralCode(ctx, strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrReferralNotFound
		}
		return 0, err
	}
	if owner == identity {
		return 0, ErrSelfReferral
	}
	linked, err := l.store.SetReferredBy(ctx, identity, owner)
	if err != nil {
		return 0, err
	}
	if !linked {
		return 0, ErrReferralRedeemed
	}
	if _, err := l.store.AdjustCredits(ctx, owner, l.cfg.ReferralCredits, "referral_bonus", "identity", identity); err != nil {
		return 0, err
	}
	return l.adjustCredits(ctx, identity, l.cfg.ReferralCredits, "referral_bonus", "identity", owner)
}

func (l *Ledger) adjustCredits(ctx context.Context, identity string, delta int64, txType, refType, refID string) (int64, error) {
	balance, err := l.store.AdjustCredits(ctx, identity, delta, txType, refType, refID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientBalance):
			return 0, ErrInsufficientBalance
		case errors.Is(err, store.ErrNotFound):
			return 0, ErrUnknownIdentity
		}
		return 0, err
	}
	return balance, nil
}
