package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/stockroom-backend/api/controllers"
	"github.com/angelmondragon/stockroom-backend/api/middleware"
	"github.com/angelmondragon/stockroom-backend/internal/inventory"
	"github.com/angelmondragon/stockroom-backend/internal/orders"
	"github.com/angelmondragon/stockroom-backend/pkg/config"
	"github.com/angelmondragon/stockroom-backend/pkg/db"
	"github.com/angelmondragon/stockroom-backend/pkg/logger"
	"github.com/angelmondragon/stockroom-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger db.Pinger,
	redisClient *redis.Client,
	inventoryService inventory.Service,
	adjustments *inventory.AdjustmentWorkflow,
	ordersService orders.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisClient))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Use(middleware.RateLimit(redisClient, cfg.RateLimit.MutationLimit, cfg.RateLimit.MutationWindow, logg))

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/low-stock", controllers.LowStockReport(inventoryService, logg))
			r.Route("/{variantId}", func(r chi.Router) {
				r.Put("/", controllers.UpsertInventoryItem(inventoryService, logg))
				r.Get("/", controllers.InventoryAvailability(inventoryService, logg))
				r.Post("/adjust", controllers.AdjustInventory(adjustments, logg))
				r.Get("/history", controllers.InventoryHistory(inventoryService, logg))
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(ordersService, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.OrderDetail(ordersService, logg))
				r.Post("/cancel", controllers.CancelOrder(ordersService, logg))
				r.Post("/ship", controllers.ShipOrder(ordersService, logg))
				r.Post("/deliver", controllers.DeliverOrder(ordersService, logg))
				r.Post("/refund", controllers.RefundOrder(ordersService, logg))
			})
		})
	})

	return r
}
