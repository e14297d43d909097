package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/campus-preorder/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса предзаказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/draft", h.CreateDraft)
			r.Post("/confirm", h.ConfirmPayment)
			r.Get("/", h.GetOrders)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/cancel", h.CancelOrder)
				r.Put("/status", h.AdvanceStatus)
				r.Put("/complete", h.CompleteOrder)
			})
		})

		r.Route("/api/restaurant", func(r chi.Router) {
			r.Get("/orders", h.GetRestaurantOrders)
			r.Put("/slots/{label}", h.SetSlotCapacity)
			r.Get("/reconciliations", h.GetReconciliations)
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
