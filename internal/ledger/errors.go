package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrUnknownIdentity     = errors.New("unknown_identity")
	ErrAlreadyPremium      = errors.New("already_premium")
	ErrSelfReferral        = errors.New("self_referral")
	ErrReferralNotFound    = errors.New("referral_not_found")
	ErrReferralRedeemed    = errors.New("referral_already_redeemed")
	ErrQuotaExhausted      = errors.New("daily_quota_exhausted")
)
