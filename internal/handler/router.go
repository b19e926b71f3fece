package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/animal-sales-tracker/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware. metrics, если не nil,
// обслуживает /metrics.
func (h *Handler) SetupRouter(metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/health", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/animals", func(r chi.Router) {
			r.Get("/", h.ListAnimals)
			r.Post("/", h.UpsertAnimal)
			r.Delete("/", h.DeleteAllAnimals)
			r.Get("/{id}", h.GetAnimal)
			r.Put("/{id}", h.UpdateAnimal)
			r.Delete("/{id}", h.DeleteAnimal)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.UpsertCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Delete("/{id}", h.DeleteCustomer)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.UpsertOrder)
			r.Delete("/completed", h.DeleteCompletedOrders)
			r.Get("/{id}", h.GetOrder)
			r.Put("/{id}", h.UpdateOrder)
			r.Delete("/{id}", h.DeleteOrder)
		})

		r.Get("/summary", h.GetSummary)
		r.Get("/summary/{aggregate}", h.GetAggregate)

		r.Get("/live/summary/{aggregate}", h.LiveAggregate)
		r.Get("/live/{query}", h.Live)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
