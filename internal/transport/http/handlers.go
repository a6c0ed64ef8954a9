// Package httptransport is the request/response side channel: identity
// issuance, the stateless pending-match poll, and the economy operations.
// These endpoints sit outside the realtime protocol's ordering guarantees.
package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ventline/internal/call"
	"ventline/internal/ledger"
	"ventline/internal/store"
)

type Handlers struct {
	Ledger      *ledger.Ledger
	Coordinator *call.Coordinator
	Store       *store.Store
	PricePerMin int64
}

type ledgerResponse struct {
	Identity         string `json:"identity"`
	Credits          int64  `json:"credits"`
	RewardPoints     int64  `json:"reward_points"`
	DailyMatchesLeft int    `json:"daily_matches_left"`
	IsPremium        bool   `json:"is_premium"`
	ReferralCode     string `json:"referral_code,omitempty"`
}

func ledgerView(row *store.Ledger) ledgerResponse {
	return ledgerResponse{
		Identity:         row.Identity,
		Credits:          row.Credits,
		RewardPoints:     row.RewardPoints,
		DailyMatchesLeft: row.DailyMatchesLeft,
		IsPremium:        row.IsPremium,
		ReferralCode:     row.ReferralCode,
	}
}

// CreateIdentity mints a durable identity with a seeded ledger.
func (h *Handlers) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	identity, row, err := h.Ledger.Register(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registration_failed")
		return
	}
	row.Identity = identity
	writeJSON(w, http.StatusCreated, ledgerView(row))
}

// GetLedger returns the caller's ledger snapshot.
func (h *Handlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	row, err := h.Ledger.Snapshot(r.Context(), identity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerView(row))
}

type pendingMatchResponse struct {
	HasMatch    bool   `json:"has_match"`
	CallID      string `json:"call_id,omitempty"`
	PartnerID   string `json:"partner_id,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	StartedAtMS int64  `json:"started_at,omitempty"`
}

// PendingMatch is the stateless poll the client uses to mask missed
// realtime deliveries. Safe to call on any cadence; reads only.
func (h *Handlers) PendingMatch(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing_identity")
		return
	}
	callID, partner, duration, startedAt, ok := h.Coordinator.PendingMatch(identity)
	if !ok {
		writeJSON(w, http.StatusOK, pendingMatchResponse{HasMatch: false})
		return
	}
	resp := pendingMatchResponse{
		HasMatch:  true,
		CallID:    callID,
		PartnerID: partner,
		Duration:  int(duration / time.Second),
	}
	if startedAt != nil {
		resp.StartedAtMS = startedAt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

type purchaseRequest struct {
	Identity  string `json:"identity"`
	Credits   int64  `json:"credits"`
	ReceiptID string `json:"receipt_id"`
}

// Purchase credits a top-up settled by the external payment provider.
func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	balance, err := h.Ledger.Purchase(r.Context(), req.Identity, req.Credits, req.ReceiptID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

type extensionRequest struct {
	Identity string `json:"identity"`
	CallID   string `json:"call_id"`
	Minutes  int    `json:"minutes"`
}

// PurchaseExtension debits the caller and extends their current call. A
// purchase landing after the call ended is refused, not silently applied.
func (h *Handlers) PurchaseExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	granted, balance, err := h.Coordinator.ApplyExtension(r.Context(), req.Identity, req.CallID, req.Minutes, h.PricePerMin)
	if err != nil {
		switch {
		case errors.Is(err, call.ErrStaleCall), errors.Is(err, call.ErrCallEnded):
			writeError(w, http.StatusConflict, "call_not_active")
		case errors.Is(err, call.ErrNoHeadroom):
			writeError(w, http.StatusConflict, "no_extension_available")
		case errors.Is(err, call.ErrBadMinutes):
			writeError(w, http.StatusBadRequest, "invalid_minutes")
		default:
			writeLedgerError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"minutes_granted": granted, "credits": balance})
}

type identityRequest struct {
	Identity string `json:"identity"`
}

func (h *Handlers) ActivatePremium(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	balance, err := h.Ledger.ActivatePremium(r.Context(), req.Identity)
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyPremium) {
			writeJSON(w, http.StatusOK, map[string]any{"credits": balance, "is_premium": true})
			return
		}
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance, "is_premium": true})
}

// Shuffle charges for a queue-card reroll and hands back a fresh card id.
// The client re-joins the queue with it; the upsert replaces the old entry.
func (h *Handlers) Shuffle(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	balance, err := h.Ledger.Shuffle(r.Context(), req.Identity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance, "card_id": store.NewID()})
}

type referralRequest struct {
	Identity string `json:"identity"`
	Code     string `json:"code"`
}

func (h *Handlers) RedeemReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	balance, err := h.Ledger.RedeemReferral(r.Context(), req.Identity, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrReferralNotFound):
			writeError(w, http.StatusNotFound, "referral_not_found")
		case errors.Is(err, ledger.ErrSelfReferral):
			writeError(w, http.StatusBadRequest, "self_referral")
		case errors.Is(err, ledger.ErrReferralRedeemed):
			writeError(w, http.StatusConflict, "referral_already_redeemed")
		default:
			writeLedgerError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownIdentity):
		writeError(w, http.StatusNotFound, "unknown_identity")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, "insufficient_balance")
	case errors.Is(err, ledger.ErrQuotaExhausted):
		writeError(w, http.StatusTooManyRequests, "daily_quota_exhausted")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
