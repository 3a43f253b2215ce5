package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/gophermart-payments/internal/metrics"
	custommiddleware "github.com/mmeshcher/gophermart-payments/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса пополнения баллов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(metrics.Middleware)
	r.Use(custommiddleware.Logger(h.logger))

	// promhttp сжимает ответ сам.
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.With(h.authMiddleware.Middleware).Get("/api/user/balance", h.GetBalance)

		r.Route("/api/payments", func(r chi.Router) {
			// Уведомления шлюза проверяются без cookie пользователя.
			r.Post("/gateway/notify", h.GatewayNotify)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/", h.CreatePayment)
				r.Get("/", h.ListPayments)
				r.Get("/{id}", h.GetPayment)
				r.Post("/{id}/transfer", h.ClaimTransfer)
				r.Post("/{id}/check", h.RequestCheck)
			})
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
