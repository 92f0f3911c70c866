package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tableserve-backend/api/controllers"
	couponcontrollers "github.com/angelmondragon/tableserve-backend/api/controllers/coupons"
	paymentcontrollers "github.com/angelmondragon/tableserve-backend/api/controllers/payments"
	realtimecontrollers "github.com/angelmondragon/tableserve-backend/api/controllers/realtime"
	"github.com/angelmondragon/tableserve-backend/api/middleware"
	"github.com/angelmondragon/tableserve-backend/internal/realtime"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/redis"
)

// redisStore is the slice of the Redis client the HTTP layer relies on.
type redisStore interface {
	redis.ResponseStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient redisStore,
	settlementService settlement.Service,
	subscriber realtime.Subscriber,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if redisClient != nil {
		readiness["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	var (
		idempotencyStore redis.ResponseStore
		limiter          interface {
			FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
		}
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		limiter = redisClient
	}
	paymentsPolicy := middleware.NewRateLimitPolicy("payments", cfg.RateLimit.PaymentsWindow, cfg.RateLimit.PaymentsPerGuest)

	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks authenticate through their signatures.
		r.Get("/payments/{provider}/return", paymentcontrollers.Return(settlementService, cfg.Settlement.ClientRedirectURL, logg))
		r.Post("/payments/{provider}/webhook", paymentcontrollers.Webhook(settlementService, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.With(
				middleware.RateLimit(paymentsPolicy, limiter, logg),
				middleware.Idempotency(idempotencyStore, logg),
			).Post("/payments", paymentcontrollers.Initiate(settlementService, logg))
			r.Get("/coupons/validate", couponcontrollers.Validate(settlementService, logg))
			r.Get("/realtime/stream", realtimecontrollers.Stream(subscriber, cfg.Settlement.StaffRoom, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireStaff(logg))
				r.Get("/payments", paymentcontrollers.List(settlementService, logg))
				r.Get("/payments/{paymentId}", paymentcontrollers.Get(settlementService, logg))
				r.With(middleware.Idempotency(idempotencyStore, logg)).
					Post("/payments/{paymentId}/cancel", paymentcontrollers.Cancel(settlementService, logg))
			})
		})
	})

	return r
}
