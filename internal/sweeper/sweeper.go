// Package sweeper reclaims expired leases and garbage-collects old
// idempotency records in the background. Sweeping is storage hygiene
// and observability only: availability math treats expiry as logical,
// so a missed round delays cleanup, never correctness.
package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/ledger"
	redisService "github.com/pxl8/controlplane/internal/services/redis"
)

const (
	DefaultInterval             = 30 * time.Second
	DefaultIdempotencyRetention = 24 * time.Hour

	sweepLockKey = "sweep_leases"
)

var (
	sweptLeases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_swept_leases_total",
			Help: "Total number of leases transitioned to expired by the sweeper",
		},
	)

	purgedIdempotencyRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_purged_idempotency_records_total",
			Help: "Total number of idempotency records garbage-collected",
		},
	)

	sweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_sweep_errors_total",
			Help: "Total number of failed sweep rounds",
		},
	)
)

// Sweeper runs periodic expiry and retention passes over the ledger.
type Sweeper struct {
	store     ledger.Store
	locks     *redisService.LockManager
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	stopCh    chan struct{}
}

type Config struct {
	Store  ledger.Store
	Logger *zap.Logger

	// Locks is optional. Without it (lite mode) every instance sweeps
	// locally, which is wasteful but harmless.
	Locks *redisService.LockManager

	Interval             time.Duration
	IdempotencyRetention time.Duration
}

func New(cfg *Config) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.IdempotencyRetention == 0 {
		cfg.IdempotencyRetention = DefaultIdempotencyRetention
	}

	return &Sweeper{
		store:     cfg.Store,
		locks:     cfg.Locks,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		retention: cfg.IdempotencyRetention,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting expiry sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("idempotency_retention", s.retention))

	go s.loop(ctx)
}

// Stop shuts the loop down.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper context cancelled")
			return
		case <-s.stopCh:
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			// Sweep failures are logged and retried next tick, never
			// surfaced to callers.
			if err := s.Sweep(ctx); err != nil {
				sweepErrors.Inc()
				s.logger.Error("Sweep round failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one expiry and retention pass. When a lock manager is
// configured and another instance holds the sweep lock, the round is
// skipped.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if s.locks != nil {
		lock, err := s.locks.Acquire(ctx, sweepLockKey, 2*s.interval)
		if err != nil {
			s.logger.Debug("Sweep lock held elsewhere, skipping round")
			return nil
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	now := s.now()

	swept, err := s.store.ExpireLeases(ctx, now)
	if err != nil {
		return err
	}
	if swept > 0 {
		sweptLeases.Add(float64(swept))
		s.logger.Info("Expired leases reclaimed", zap.Int64("count", swept))
	}

	purged, err := s.store.PurgeIdempotency(ctx, now.Add(-s.retention))
	if err != nil {
		return err
	}
	if purged > 0 {
		purgedIdempotencyRecords.Add(float64(purged))
		s.logger.Info("Idempotency records purged", zap.Int64("count", purged))
	}

	return nil
}
