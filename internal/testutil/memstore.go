// Package testutil provides an in-memory store for unit tests, standing in
// for the pgx-backed store behind the ledger and coordinator interfaces.
package testutil

import (
	"context"
	"sync"
	"time"

	"ventline/internal/store"
)

type MemStore struct {
	mu          sync.Mutex
	Ledgers     map[string]*store.Ledger
	Calls       map[string]*store.CallRecord
	Extensions  map[string]*store.ExtensionRecord
	Txns        []store.Transaction
	Reports     []string
	ReferredBy  map[string]string
	BansApplied int
}

func NewMemStore() *MemStore {
	return &MemStore{
		Ledgers:    map[string]*store.Ledger{},
		Calls:      map[string]*store.CallRecord{},
		Extensions: map[string]*store.ExtensionRecord{},
		ReferredBy: map[string]string{},
	}
}

// Seed inserts a ledger row directly, bypassing registration.
func (m *MemStore) Seed(identity string, credits int64, dailyLeft int, premium bool) *store.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := &store.Ledger{
		Identity:         identity,
		Credits:          credits,
		DailyMatchesLeft: dailyLeft,
		DailyResetAt:     time.Now().Add(12 * time.Hour),
		IsPremium:        premium,
		CreatedAt:        time.Now(),
	}
	m.Ledgers[identity] = row
	return row
}

func (m *MemStore) CreateLedger(_ context.Context, identity string, welcomeCredits int64, dailyQuota int, referralCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Ledgers[identity]; ok {
		return nil
	}
	m.Ledgers[identity] = &store.Ledger{
		Identity:         identity,
		Credits:          welcomeCredits,
		DailyMatchesLeft: dailyQuota,
		DailyResetAt:     time.Now().Add(12 * time.Hour),
		ReferralCode:     referralCode,
		CreatedAt:        time.Now(),
	}
	return nil
}

func (m *MemStore) GetLedger(_ context.Context, identity string) (*store.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *MemStore) AdjustCredits(_ context.Context, identity string, delta int64, txType, refType, refID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return 0, store.ErrNotFound
	}
	if row.Credits+delta < 0 {
		return 0, store.ErrInsufficientBalance
	}
	row.Credits += delta
	m.Txns = append(m.Txns, store.Transaction{
		ID: store.NewID(), Identity: identity, Type: txType, Amount: delta,
		Currency: store.CurrencyCredits, RefType: refType, RefID: refID, CreatedAt: time.Now(),
	})
	return row.Credits, nil
}

func (m *MemStore) AdjustRewardPoints(_ context.Context, identity string, delta int64, txType, refType, refID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return 0, store.ErrNotFound
	}
	row.RewardPoints += delta
	if row.RewardPoints < 0 {
		row.RewardPoints = 0
	}
	m.Txns = append(m.Txns, store.Transaction{
		ID: store.NewID(), Identity: identity, Type: txType, Amount: delta,
		Currency: store.CurrencyReward, RefType: refType, RefID: refID, CreatedAt: time.Now(),
	})
	return row.RewardPoints, nil
}

func (m *MemStore) SetPremium(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return store.ErrNotFound
	}
	row.IsPremium = true
	return nil
}

func (m *MemStore) SetBan(_ context.Context, identity string, until time.Time, banCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return store.ErrNotFound
	}
	u := until
	row.BanUntil = &u
	row.BanCount = banCount
	row.ReportCount = 0
	m.BansApplied++
	return nil
}

func (m *MemStore) IncrementReportCount(_ context.Context, identity string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return 0, store.ErrNotFound
	}
	row.ReportCount++
	return row.ReportCount, nil
}

func (m *MemStore) ResetDailyMatches(_ context.Context, identity string, quota int, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok {
		return store.ErrNotFound
	}
	row.DailyMatchesLeft = quota
	row.DailyResetAt = resetAt
	return nil
}

func (m *MemStore) ConsumeDailyMatch(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.Ledgers[identity]
	if !ok || row.DailyMatchesLeft <= 0 {
		return store.ErrInsufficientBalance
	}
	row.DailyMatchesLeft--
	return nil
}

func (m *MemStore) FindIdentityByReferralCode(_ context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, row := range m.Ledgers {
		if row.ReferralCode == code && code != "" {
			return id, nil
		}
	}
	return "", store.ErrNotFound
}

func (m *MemStore) SetReferredBy(_ context.Context, identity, referrer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ReferredBy[identity]; ok {
		return false, nil
	}
	m.ReferredBy[identity] = referrer
	return true, nil
}

func (m *MemStore) InsertReport(_ context.Context, callID, reporter, reported string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reports = append(m.Reports, reported)
	return nil
}

func (m *MemStore) InsertExtension(_ context.Context, rec store.ExtensionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.Extensions[rec.ID] = &cp
	return nil
}

func (m *MemStore) MarkExtensionRefunded(_ context.Context, extensionID string, refundedPts int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ext, ok := m.Extensions[extensionID]
	if !ok || ext.RefundedPts != 0 {
		return false, nil
	}
	ext.RefundedPts = refundedPts
	return true, nil
}

func (m *MemStore) CreateCall(_ context.Context, rec store.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.Calls[rec.ID] = &cp
	return nil
}

func (m *MemStore) MarkCallStarted(_ context.Context, callID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.StartedAt == nil {
		t := at
		rec.StartedAt = &t
		rec.Status = "running"
	}
	return nil
}

func (m *MemStore) FinishCall(_ context.Context, callID, endReason string, elapsedSeconds int, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status == "ended" {
		return nil
	}
	rec.Status = "ended"
	rec.EndReason = endReason
	rec.ElapsedSeconds = elapsedSeconds
	t := endedAt
	rec.EndedAt = &t
	return nil
}
