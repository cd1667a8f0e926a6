package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/ledger-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.GetOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/orders/by-number/{number}", h.GetOrderByNumber)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
		r.Get("/orders/{id}/invoice", h.GetInvoice)
		r.Post("/orders/{id}/returns", h.SubmitReturn)

		r.Post("/discounts/validate", h.ValidateDiscount)

		r.Get("/returns", h.GetReturns)
		r.Get("/returns/{id}", h.GetReturn)

		r.Get("/credit", h.GetBalance)
		r.Get("/credit/entries", h.GetCreditEntries)

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin)

			r.Get("/orders", h.ListAllOrders)
			r.Post("/orders/{id}/fulfill", h.FulfillOrder)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Get("/returns", h.ListReturns)
			r.Post("/returns/{id}/review", h.ReviewReturn)
			r.Put("/returns/{id}/resolve", h.ResolveReturn)
			r.Post("/returns/{id}/confirm-refund", h.ConfirmRefund)

			r.Post("/users/{id}/credit", h.AdjustCredit)
			r.Put("/products/{id}/stock", h.CorrectStock)
			r.Post("/products/stock", h.CorrectStockBulk)

			r.Get("/notifications", h.ListNotifications)
			r.Get("/stats", h.Stats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
