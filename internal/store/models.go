package store

import "time"

type Ledger struct {
	Identity         string
	Credits          int64
	RewardPoints     int64
	DailyMatchesLeft int
	DailyResetAt     time.Time
	IsPremium        bool
	BanUntil         *time.Time
	BanCount         int
	ReportCount      int
	ReferralCode     string
	CreatedAt        time.Time
}

type CallRecord struct {
	ID             string
	ParticipantA   string
	ParticipantB   string
	MoodA          string
	BaseSeconds    int
	StartedAt      *time.Time
	ElapsedSeconds int
	Status         string
	EndReason      string
	CreatedAt      time.Time
	EndedAt        *time.Time
}

type ExtensionRecord struct {
	ID          string
	CallID      string
	Purchaser   string
	Minutes     int
	CostCredits int64
	RefundedPts int64
	PurchasedAt time.Time
}

type Transaction struct {
	ID        string
	Identity  string
	Type      string
	Amount    int64
	Currency  string
	RefType   string
	RefID     string
	CreatedAt time.Time
}
