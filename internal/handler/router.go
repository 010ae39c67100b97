package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/content-settlement/internal/middleware"
	"github.com/mmeshcher/content-settlement/internal/telemetry"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса расчётов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(custommiddleware.Logger(h.logger))

	// Подпись считается по сырому телу, поэтому вебхук обходит gzip.
	r.Post("/api/webhooks/stripe", h.StripeWebhook)
	r.Post("/api/stripe/webhook", h.StripeWebhook)

	r.Get("/health", h.Health)
	if h.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.opts.Metrics)
	}

	r.With(custommiddleware.GzipMiddleware, custommiddleware.RequireBearer(h.opts.AdminToken)).
		Get("/api/webhooks/events", h.ListEvents)

	r.Route("/api/user", func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.opts.Limiter.Middleware(userKey))

		r.Get("/balance", h.GetBalance)
		r.Get("/orders", h.GetOrders)
		r.Get("/points/transactions", h.GetTransactions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

func userKey(r *http.Request) string {
	id, _ := custommiddleware.GetUserIDFromContext(r.Context())
	return id
}
