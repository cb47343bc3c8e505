package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mmeshcher/storefront/internal/apperr"
	custommiddleware "github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/telemetry"
)

// SetupRouter настраивает HTTP-маршруты и middleware витрины.
// metrics обслуживает /metrics; nil отключает маршрут.
func (h *Handler) SetupRouter(metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(telemetry.RouteTagger)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/orders", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Optional)

				r.Post("/", h.CreateOrder)
				r.Get("/{ref}", h.GetOrder)
				r.Post("/{ref}/cancel", h.CancelOrder)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Required)

				r.Get("/", h.ListOrders)
				r.With(custommiddleware.RequireAdmin).Put("/{ref}", h.UpdateOrder)
			})
		})

		r.Route("/exchange-returns", func(r chi.Router) {
			r.Use(h.authMiddleware.Required)

			r.Post("/", h.CreateExchangeReturn)
			r.Get("/", h.ListExchangeReturns)
			r.Get("/{id}", h.GetExchangeReturn)
			r.Put("/{id}/status", h.UpdateExchangeStatus)
			r.Delete("/{id}", h.CancelExchangeReturn)
		})

		r.Route("/points", func(r chi.Router) {
			r.Use(h.authMiddleware.Required)

			r.Get("/", h.GetPoints)
			r.Get("/history", h.GetPointHistory)
			r.Post("/use", h.UsePoints)
			r.With(custommiddleware.RequireAdmin).Post("/earn", h.EarnPoints)
		})

		r.With(h.authMiddleware.Required, custommiddleware.RequireAdmin).
			Get("/refund-failures", h.ListRefundFailures)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apperr.New(apperr.KindNotFound, "route_not_found", http.StatusText(http.StatusNotFound)))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error: http.StatusText(http.StatusMethodNotAllowed),
			Code:  "method_not_allowed",
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
