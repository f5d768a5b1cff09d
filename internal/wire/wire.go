// internal/wire/wire.go
package wire

import (
	"context"
	"net/http"
	"time"

	"clinic-scheduling/internal/adaptor"
	"clinic-scheduling/internal/data/repository"
	"clinic-scheduling/internal/metrics"
	"clinic-scheduling/internal/notify"
	"clinic-scheduling/internal/usecase"
	"clinic-scheduling/pkg/middleware"
	"clinic-scheduling/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger is the database check behind /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the connections opened by main.
type Dependencies struct {
	Repo       *repository.Repository
	DB         Pinger
	Dispatcher notify.Dispatcher
	// Redis is optional; without it Idempotency-Key headers are ignored.
	Redis    *redis.Client
	Registry *prometheus.Registry
}

// App menyimpan semua dependencies
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Wiring menginisialisasi semua dependencies
func Wiring(deps Dependencies, config *utils.Config, logger *zap.Logger) *App {
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	// Initialize services dan handlers
	m := metrics.NewSchedulingMetrics(deps.Registry)
	service := usecase.NewService(deps.Repo, config, deps.Dispatcher, m, logger)
	handler := adaptor.NewHandler(service, logger)

	var idem middleware.IdempotencyStore
	if deps.Redis != nil {
		idem = middleware.NewRedisIdempotencyStore(deps.Redis, config.Redis.IdempotencyTTL)
	}

	// Setup router
	router := setupRouter(handler, deps, idem, config, logger)

	return &App{
		Router:  router,
		Service: service,
	}
}

// setupRouter konfigurasi Chi router
func setupRouter(
	handler *adaptor.Handler,
	deps Dependencies,
	idem middleware.IdempotencyStore,
	config *utils.Config,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Actor(logger))

	// Apply routes
	wireAvailability(r, handler.Availability, idem, logger)
	wireBooking(r, handler.Booking, idem, config, logger)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.DB.Ping(ctx); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("DB UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	return r
}
