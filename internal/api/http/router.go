package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	platformhealth "github.com/rinta-toyoda/retailer-agent-project/platform/health/http"
	platformobservability "github.com/rinta-toyoda/retailer-agent-project/platform/observability"
)

// RouterDeps всё, что нужно роутеру кроме Handler
type RouterDeps struct {
	Readiness  *platformhealth.Readiness
	Gatherer   prometheus.Gatherer
	AdminToken string
	Logger     *zap.Logger
}

// NewRouter собирает chi роутер storefront.
// /health и /metrics идут без трассировки.
func NewRouter(h *Handler, deps RouterDeps) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)

	router.Get("/health", platformhealth.Handler(deps.Readiness))
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		if deps.Logger != nil {
			r.Use(platformobservability.HTTPMiddleware("storefront", deps.Logger))
		}

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/prepare", h.PostCheckoutPrepare)
			r.Post("/finalize", h.PostCheckoutFinalize)
			r.Post("/cancel", h.PostCheckoutCancel)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Post("/add", h.PostCartAdd)
			r.Post("/remove", h.PostCartRemove)
			r.Get("/{cart_id}", h.GetCart)
		})

		r.Get("/inventory/{sku}", h.GetAvailability)
		r.Get("/orders/{order_number}", h.GetOrder)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdminToken(deps.AdminToken))
			r.Post("/inventory", h.PostAdminInventory)
			r.Get("/inventory", h.GetAdminInventory)
			r.Get("/inventory/low-stock", h.GetAdminLowStock)
			r.Post("/stock", h.PostAdminStock)
			r.Post("/stock/set", h.PostAdminStockSet)
			r.Get("/reservations/{reservation_id}", h.GetAdminReservation)
		})
	})

	return router
}
