package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the HTTP surface. The websocket endpoint is mounted
// here too so the whole server listens on one address.
func NewRouter(h *Handlers, wsHandler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Post("/identity", h.CreateIdentity)
		r.Get("/ledger", h.GetLedger)
		r.Get("/match/pending", h.PendingMatch)

		r.Route("/economy", func(r chi.Router) {
			r.Post("/purchase", h.Purchase)
			r.Post("/extension", h.PurchaseExtension)
			r.Post("/premium", h.ActivatePremium)
			r.Post("/shuffle", h.Shuffle)
			r.Post("/referral", h.RedeemReferral)
		})
	})
	return r
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "db_unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
