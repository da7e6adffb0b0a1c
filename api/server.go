/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied into every log line
  2. RealIP:     Client address behind a proxy
  3. Logger:     zap request logging (requestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request count / latency per route
  6. CORS:       Cross-origin requests for the POS frontend

ROUTE GROUPS:
  /healthz                  Database reachability
  /metrics                  Prometheus scrape endpoint
  /api/customers/*          Customers, balance, statement, payment history
  /api/inventory/*          Inventory items used to fill invoice lines
  /api/invoices/*           Issue, list, view, delete invoices
  /api/payments/*           Record, list, delete payments
  /api/returns/*            Process, clear, delete returns
  /api/reports/*            Dashboard, profit, low stock
  /api/ledger/*             Raw events, cache audit and repair

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind the
  shop's own access gate.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures cross-cutting router behavior.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty means same-origin only.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Delete("/{id}", h.DeleteCustomer)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)
			r.Get("/{id}/payments", h.GetPaymentHistory)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.ListInventory)
			r.Post("/", h.CreateInventoryItem)
			r.Get("/{id}", h.GetInventoryItem)
			r.Put("/{id}", h.UpdateInventoryItem)
			r.Delete("/{id}", h.DeleteInventoryItem)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.RecordPayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Get("/", h.ListReturns)
			r.Post("/", h.ProcessReturn)
			r.Get("/{id}", h.GetReturn)
			r.Post("/{id}/clear", h.ClearRefund)
			r.Delete("/{id}", h.DeleteReturn)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/dashboard", h.Dashboard)
			r.Get("/profit", h.ProfitReport)
			r.Get("/low-stock", h.LowStock)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/events/{id}", h.GetEvent)
			r.Get("/audit", h.Audit)
			r.Post("/repair", h.Repair)
		})
	})

	return r
}
