package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xtrntr/auction/internal/metrics"
)

// NewRouter mounts the API. ws may be nil to disable the event stream.
func NewRouter(h *Handler, ws http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)

	// Public endpoints
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())
	if ws != nil {
		r.Handle("/ws", ws)
	}

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Get("/auctions", h.ListAuctions)
		r.Post("/auctions", h.CreateAuction)
		r.Get("/auctions/{id}", h.GetAuction)
		r.Patch("/auctions/{id}", h.UpdateTerms)
		r.Delete("/auctions/{id}", h.CancelAuction)
		r.Get("/auctions/{id}/bids", h.BidHistory)
		r.With(h.RateLimitBids).Post("/auctions/{id}/bids", h.SubmitBid)
	})
	return r
}
