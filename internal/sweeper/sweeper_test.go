package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/models"
	redisService "github.com/pxl8/controlplane/internal/services/redis"
)

func seedLease(t *testing.T, store ledger.Store, dataplane string, expiresAt time.Time) (uuid.UUID, uuid.UUID) {
	t.Helper()

	tenantID, periodID := uuid.New(), uuid.New()
	err := store.Update(context.Background(), tenantID, periodID, func(txn ledger.Txn) error {
		return txn.CreateLease(&models.Lease{
			TenantID:              tenantID,
			PeriodID:              periodID,
			DataplaneID:           dataplane,
			BandwidthGrantedBytes: 100,
			TransformsGranted:     1,
			GrantedAt:             time.Now(),
			ExpiresAt:             expiresAt,
			RequestID:             uuid.New(),
			State:                 models.LeaseStateActive,
		})
	})
	require.NoError(t, err)
	return tenantID, periodID
}

func activeLeaseCount(t *testing.T, store ledger.Store, tenantID, periodID uuid.UUID) int {
	t.Helper()

	var count int
	err := store.View(context.Background(), tenantID, periodID, func(txn ledger.Txn) error {
		leases, err := txn.ActiveLeases()
		if err != nil {
			return err
		}
		count = len(leases)
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("reclaims overdue leases and keeps live ones", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		s := New(&Config{Store: store, Logger: zap.NewNop()})

		now := time.Now()
		overdueTenant, overduePeriod := seedLease(t, store, "dp-old", now.Add(-time.Minute))
		liveTenant, livePeriod := seedLease(t, store, "dp-live", now.Add(time.Minute))

		s.now = func() time.Time { return now }
		require.NoError(t, s.Sweep(ctx))

		assert.Zero(t, activeLeaseCount(t, store, overdueTenant, overduePeriod))
		assert.Equal(t, 1, activeLeaseCount(t, store, liveTenant, livePeriod))
	})

	t.Run("purges idempotency records past retention", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		s := New(&Config{Store: store, Logger: zap.NewNop(), IdempotencyRetention: 24 * time.Hour})

		tenantID, periodID := uuid.New(), uuid.New()
		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			return txn.PutIdempotency(&models.IdempotencyRecord{
				BaseModel: models.BaseModel{CreatedAt: time.Now().Add(-48 * time.Hour)},
				Key:       uuid.New(),
				Kind:      models.IdempotencyKindReport,
				TenantID:  tenantID,
				PeriodID:  periodID,
				Response:  []byte(`{}`),
			})
		})
		require.NoError(t, err)

		require.NoError(t, s.Sweep(ctx))

		purged, err := store.PurgeIdempotency(ctx, time.Now())
		require.NoError(t, err)
		assert.Zero(t, purged, "sweep should already have purged the stale record")
	})

	t.Run("skips the round when another instance holds the lock", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		defer client.Close()

		locks := redisService.NewLockManager(client, zap.NewNop())

		// Another instance already swept this round.
		require.NoError(t, mr.Set("lock:sweep_leases", "other-instance"))

		store := ledger.NewMemoryStore()
		s := New(&Config{Store: store, Logger: zap.NewNop(), Locks: locks})

		now := time.Now()
		tenantID, periodID := seedLease(t, store, "dp-old", now.Add(-time.Minute))

		s.now = func() time.Time { return now }
		require.NoError(t, s.Sweep(ctx))

		assert.Equal(t, 1, activeLeaseCount(t, store, tenantID, periodID), "contended round must not sweep")
	})

	t.Run("releases the lock after the round", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		defer client.Close()

		locks := redisService.NewLockManager(client, zap.NewNop())
		store := ledger.NewMemoryStore()
		s := New(&Config{Store: store, Logger: zap.NewNop(), Locks: locks})

		require.NoError(t, s.Sweep(ctx))
		assert.False(t, mr.Exists("lock:sweep_leases"))
	})
}

func TestSweeperLifecycle(t *testing.T) {
	store := ledger.NewMemoryStore()
	s := New(&Config{
		Store:    store,
		Logger:   zap.NewNop(),
		Interval: 10 * time.Millisecond,
	})

	now := time.Now()
	tenantID, periodID := seedLease(t, store, "dp-old", now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		count := -1
		err := store.View(context.Background(), tenantID, periodID, func(txn ledger.Txn) error {
			leases, err := txn.ActiveLeases()
			if err != nil {
				return err
			}
			count = len(leases)
			return nil
		})
		return err == nil && count == 0
	}, time.Second, 10*time.Millisecond, "background loop should reclaim the overdue lease")
}
