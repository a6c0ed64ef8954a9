package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ventline/internal/ban"
	"ventline/internal/call"
	"ventline/internal/ledger"
	"ventline/internal/queue"
	"ventline/internal/testutil"
)

type noopEvents struct{}

func (noopEvents) MatchFound(identity, callID, partner string, duration time.Duration, startedAt *time.Time) {
}
func (noopEvents) WaitingForPartner(identity, callID string)                          {}
func (noopEvents) CallStarted(identity, callID string, at time.Time, d time.Duration) {}
func (noopEvents) CallWarning(identity, callID string, remaining time.Duration)       {}
func (noopEvents) CallEnded(identity, callID string, reason call.EndReason)           {}

func newHandlers(t *testing.T) (*Handlers, *testutil.MemStore) {
	t.Helper()
	ms := testutil.NewMemStore()
	led := ledger.New(ms, ledger.Config{
		WelcomeCredits:  70,
		DailyQuota:      3,
		ReferralCredits: 50,
		ShuffleCost:     20,
		PremiumCost:     500,
		RefundMinUnused: time.Minute,
	})
	enf := ban.NewEnforcer(ban.StepPolicy{Threshold: 3, Base: time.Hour})
	coord := call.NewCoordinator(call.Config{
		BaseDuration:  7 * time.Minute,
		MaxDuration:   30 * time.Minute,
		WarningWindow: time.Minute,
	}, ms, led, enf, noopEvents{})
	return &Handlers{Ledger: led, Coordinator: coord, PricePerMin: 10}, ms
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func startCall(t *testing.T, h *Handlers, ms *testutil.MemStore) string {
	t.Helper()
	ms.Seed("a", 1000, 3, false)
	ms.Seed("b", 1000, 3, false)
	cl, err := h.Coordinator.Create(context.Background(), queue.Match{
		A: queue.Entry{Identity: "a", Mood: queue.MoodVent},
		B: queue.Entry{Identity: "b", Mood: queue.MoodListen},
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	h.Coordinator.SignalReady(context.Background(), "a", cl.ID)
	h.Coordinator.SignalReady(context.Background(), "b", cl.ID)
	return cl.ID
}

func TestCreateIdentity(t *testing.T) {
	h, _ := newHandlers(t)
	w := postJSON(t, h.CreateIdentity, "/api/identity", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["identity"] == "" || out["credits"].(float64) != 70 {
		t.Fatalf("body = %v", out)
	}
}

func TestGetLedgerUnknownIdentity(t *testing.T) {
	h, _ := newHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ledger?identity=ghost", nil)
	w := httptest.NewRecorder()
	h.GetLedger(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPendingMatchLifecycle(t *testing.T) {
	h, ms := newHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/match/pending", nil)
	w := httptest.NewRecorder()
	h.PendingMatch(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing identity status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/match/pending?identity=a", nil)
	w = httptest.NewRecorder()
	h.PendingMatch(w, req)
	if out := decode(t, w); out["has_match"] != false {
		t.Fatalf("body = %v", out)
	}

	callID := startCall(t, h, ms)
	req = httptest.NewRequest(http.MethodGet, "/api/match/pending?identity=a", nil)
	w = httptest.NewRecorder()
	h.PendingMatch(w, req)
	out := decode(t, w)
	if out["has_match"] != true || out["call_id"] != callID || out["partner_id"] != "b" {
		t.Fatalf("body = %v", out)
	}
	if out["started_at"].(float64) <= 0 {
		t.Fatalf("running call must report its start time: %v", out)
	}
}

func TestPurchaseExtension(t *testing.T) {
	h, ms := newHandlers(t)
	callID := startCall(t, h, ms)

	w := postJSON(t, h.PurchaseExtension, "/api/economy/extension", extensionRequest{
		Identity: "a", CallID: callID, Minutes: 5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["minutes_granted"].(float64) != 5 || out["credits"].(float64) != 950 {
		t.Fatalf("body = %v", out)
	}
}

func TestPurchaseExtensionChargedForGrantedOnly(t *testing.T) {
	h, ms := newHandlers(t)
	callID := startCall(t, h, ms)

	// 7m base under a 30m cap: 25 requested minutes truncate to 23
	w := postJSON(t, h.PurchaseExtension, "/api/economy/extension", extensionRequest{
		Identity: "a", CallID: callID, Minutes: 25,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["minutes_granted"].(float64) != 23 {
		t.Fatalf("granted = %v", out["minutes_granted"])
	}
	if out["credits"].(float64) != 770 {
		t.Fatalf("credits = %v, want debit of 23 x 10 only", out["credits"])
	}
}

func TestPurchaseExtensionAfterEndRefused(t *testing.T) {
	h, ms := newHandlers(t)
	callID := startCall(t, h, ms)
	h.Coordinator.EndCall(context.Background(), "a", call.ReasonNormal, 0)

	w := postJSON(t, h.PurchaseExtension, "/api/economy/extension", extensionRequest{
		Identity: "a", CallID: callID, Minutes: 5,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if out := decode(t, w); out["error"] != "call_not_active" {
		t.Fatalf("body = %v", out)
	}
}

func TestPurchaseExtensionNoBalance(t *testing.T) {
	h, ms := newHandlers(t)
	callID := startCall(t, h, ms)
	ms.Ledgers["a"].Credits = 5

	w := postJSON(t, h.PurchaseExtension, "/api/economy/extension", extensionRequest{
		Identity: "a", CallID: callID, Minutes: 5,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPurchaseExtensionBadMinutes(t *testing.T) {
	h, ms := newHandlers(t)
	callID := startCall(t, h, ms)

	w := postJSON(t, h.PurchaseExtension, "/api/economy/extension", extensionRequest{
		Identity: "a", CallID: callID, Minutes: 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestActivatePremiumTwice(t *testing.T) {
	h, ms := newHandlers(t)
	ms.Seed("a", 600, 3, false)

	w := postJSON(t, h.ActivatePremium, "/api/economy/premium", identityRequest{Identity: "a"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out := decode(t, w); out["credits"].(float64) != 100 {
		t.Fatalf("body = %v", out)
	}

	// repeat activation answers with the current state, not an error
	w = postJSON(t, h.ActivatePremium, "/api/economy/premium", identityRequest{Identity: "a"})
	if w.Code != http.StatusOK {
		t.Fatalf("repeat status = %d", w.Code)
	}
	if out := decode(t, w); out["is_premium"] != true {
		t.Fatalf("body = %v", out)
	}
}

func TestRedeemReferralUnknownCode(t *testing.T) {
	h, ms := newHandlers(t)
	ms.Seed("a", 0, 3, false)
	w := postJSON(t, h.RedeemReferral, "/api/economy/referral", referralRequest{Identity: "a", Code: "nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestShuffleReturnsFreshCard(t *testing.T) {
	h, ms := newHandlers(t)
	ms.Seed("a", 100, 3, false)
	w := postJSON(t, h.Shuffle, "/api/economy/shuffle", identityRequest{Identity: "a"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["credits"].(float64) != 80 || out["card_id"] == "" {
		t.Fatalf("body = %v", out)
	}
}

func TestHealthWithoutStore(t *testing.T) {
	h, _ := newHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
