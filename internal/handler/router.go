package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/beershop-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бирмаркет.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics())

	r.Post("/signup", h.Signup)

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProduct)

	r.Post("/create-checkout-session", h.CreateCheckoutSession)
	r.Post("/order/success/{sessionID}", h.OrderSuccess)

	r.Post("/transaction", h.CreateTransaction)
	r.Get("/transaction/{orderID}", h.GetTransaction)

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
