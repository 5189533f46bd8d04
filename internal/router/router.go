package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pxl8/controlplane/internal/config"
	"github.com/pxl8/controlplane/internal/handlers"
	"github.com/pxl8/controlplane/internal/lease"
	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/middleware"
	"github.com/pxl8/controlplane/internal/usage"
)

type Config struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      ledger.Store
	Manager    *lease.Manager
	Aggregator *usage.Aggregator

	// DB is nil in lite mode; health checks then report the in-memory ledger.
	DB       *gorm.DB
	LiteMode bool
}

func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Config.CORS.AllowedOrigins,
		AllowedMethods:   cfg.Config.CORS.AllowedMethods,
		AllowedHeaders:   cfg.Config.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.Config.CORS.ExposedHeaders,
		AllowCredentials: cfg.Config.CORS.AllowCredentials,
		MaxAge:           cfg.Config.CORS.MaxAge,
	}))

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.LiteMode)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	budgetHandler := handlers.NewBudgetHandler(cfg.Logger, cfg.Manager)
	usageHandler := handlers.NewUsageHandler(cfg.Logger, cfg.Aggregator)
	adminHandler := handlers.NewAdminHandler(cfg.Logger, cfg.Store)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/budget/allocate", budgetHandler.Allocate)
		r.Post("/usage/report", usageHandler.Report)

		r.Get("/tenants/{tenant_id}/periods/{period_id}", adminHandler.PeriodState)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code":"not_found","message":"route not found"}`))
	})

	return r
}
