package web

import (
	"net/http"

	"wholesale-fulfillment/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Options configures the HTTP adapter.
type Options struct {
	AllowedOrigins string
	JWTSecret      string
	Logger         *logrus.Logger
	// RateLimiter may be nil, which disables limiting.
	RateLimiter *RateLimiter
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	jwtSecret string
	logger    *logrus.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		svc:       svc,
		jwtSecret: opts.JWTSecret,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recoverer(logger))
	r.Use(CORS(opts.AllowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	// ── Protected API routes (return 401 JSON if unauthenticated) ────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(opts.RateLimiter.Middleware)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Get("/api/me", h.me)
		r.Get("/api/users/{id}", h.apiGetUser)
		r.Get("/api/agents", h.apiListAgents)
		r.Get("/api/settings", h.apiGetSettings)
		r.Get("/api/credit", h.apiCheckCredit)

		// ── Orders ────────────────────────────────────────────────────────────
		r.Post("/api/orders", h.apiCreateOrder)
		r.Get("/api/orders", h.apiListOrders)
		r.Get("/api/orders/{id}", h.apiGetOrder)
		r.Get("/api/orders/{id}/invoice", h.apiGetOrderInvoice)
		r.Post("/api/orders/{id}/approve", h.apiApproveOrder)
		r.Post("/api/orders/{id}/prepare", h.apiPrepareOrder)
		r.Post("/api/orders/{id}/ship", h.apiShipOrder)
		r.Post("/api/orders/{id}/assign", h.apiAssignAgent)
		r.Post("/api/orders/{id}/deliver", h.apiConfirmDelivery)
		r.Post("/api/orders/{id}/cancel", h.apiCancelOrder)
		r.Patch("/api/orders/{id}/items/{itemID}", h.apiUpdateItemQuantity)

		// ── Invoices ──────────────────────────────────────────────────────────
		r.Get("/api/invoices/{id}", h.apiGetInvoice)
		r.Post("/api/invoices/{id}/payments", h.apiRecordPayment)
		r.Post("/api/invoices/{id}/void", h.apiVoidInvoice)

		// ── Stock ─────────────────────────────────────────────────────────────
		r.Get("/api/products/low-stock", h.apiLowStock)
		r.Get("/api/products/{id}/stock", h.apiGetStock)
		r.Post("/api/products/{id}/stock", h.apiApplyStock)
		r.Get("/api/products/{id}/movements", h.apiListMovements)
	})

	h.router = r
	return r
}

// health reports database reachability.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	if err := h.svc.Health(r.Context()); err != nil {
		h.logger.WithError(err).Warn("health check: database unreachable")
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "degraded", Database: "unreachable"})
		return
	}
	writeJSON(w, response{Status: "ok", Database: "ok"})
}
