package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pxl8/controlplane/internal/config"
	"github.com/pxl8/controlplane/internal/database"
	"github.com/pxl8/controlplane/internal/lease"
	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/logger"
	"github.com/pxl8/controlplane/internal/policy"
	"github.com/pxl8/controlplane/internal/router"
	redisService "github.com/pxl8/controlplane/internal/services/redis"
	"github.com/pxl8/controlplane/internal/sweeper"
	"github.com/pxl8/controlplane/internal/usage"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// Ledger: Postgres in full mode, in-memory when the database is
	// unreachable. The in-memory ledger is single-instance only.
	var store ledger.Store
	var db = connectDatabase(cfg, log)
	liteMode := db == nil
	if liteMode {
		log.Warn("Running in LITE MODE - in-memory ledger, single instance semantics only")
		store = ledger.NewMemoryStore()
	} else {
		log.Info("Running in FULL MODE - Postgres ledger")
		store = ledger.NewGormStore(db)
		defer func() { _ = database.Close(db) }()
	}

	// Redis backs the policy snapshot reads and the sweep lock. Without
	// it the server falls back to a static (empty) policy table, which
	// refuses every allocation, so treat it as a hard dependency unless
	// running lite.
	redisClient := connectRedis(cfg, log)

	var policies policy.Provider
	var locks *redisService.LockManager
	if redisClient != nil {
		policies = policy.NewSnapshotProvider(redisClient, log)
		locks = redisService.NewLockManager(redisClient, log)
	} else {
		if !liteMode {
			log.Fatal("Redis is required in full mode for policy snapshots")
		}
		log.Warn("No Redis configured, using empty static policy table")
		policies = policy.NewStaticProvider()
	}

	manager := lease.NewManager(&lease.ManagerConfig{
		Store:    store,
		Policies: policies,
		Logger:   log,
		TTL:      cfg.Lease.TTL,
	})
	aggregator := usage.NewAggregator(store, log)

	sweep := sweeper.New(&sweeper.Config{
		Store:                store,
		Logger:               log,
		Locks:                locks,
		Interval:             cfg.Lease.SweepInterval,
		IdempotencyRetention: cfg.Lease.IdempotencyRetention,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep.Start(ctx)
	defer sweep.Stop()

	handler := router.New(&router.Config{
		Config:     cfg,
		Logger:     log,
		Store:      store,
		Manager:    manager,
		Aggregator: aggregator,
		DB:         db,
		LiteMode:   liteMode,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Control plane listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// connectDatabase returns nil when the ledger database is not
// configured or unreachable, which flips the server into lite mode.
func connectDatabase(cfg *config.Config, log *zap.Logger) *gorm.DB {
	if cfg.Database.URL == "" && os.Getenv("DATABASE_URL") == "" {
		return nil
	}

	db, err := database.Connect(&database.Config{
		DSN:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Warn("Failed to initialize database, switching to LITE MODE", zap.Error(err))
		return nil
	}
	return db
}

func connectRedis(cfg *config.Config, log *zap.Logger) *goredis.Client {
	if cfg.Redis.URL == "" {
		return nil
	}

	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	if cfg.Redis.Password != "" {
		opt.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opt.DB = cfg.Redis.DB
	}
	if cfg.Redis.PoolSize != 0 {
		opt.PoolSize = cfg.Redis.PoolSize
	}

	client := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Failed to connect to Redis", zap.Error(err))
		return nil
	}

	return client
}
