package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/models"
	"github.com/pxl8/controlplane/internal/testutil"
)

func TestGormStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, cleanup := testutil.NewTestDB(t)
	defer cleanup()

	store := ledger.NewGormStore(db)
	ctx := context.Background()

	makeLease := func(tenantID, periodID uuid.UUID, dataplane string, bw int64, expiresAt time.Time) *models.Lease {
		return &models.Lease{
			TenantID:              tenantID,
			PeriodID:              periodID,
			DataplaneID:           dataplane,
			BandwidthGrantedBytes: bw,
			TransformsGranted:     1,
			GrantedAt:             time.Now().UTC(),
			ExpiresAt:             expiresAt,
			RequestID:             uuid.New(),
			State:                 models.LeaseStateActive,
		}
	}

	t.Run("usage and leases round-trip through a transaction", func(t *testing.T) {
		tenantID, periodID := uuid.New(), uuid.New()

		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			usage, err := txn.AddUsage(500, 3)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(500), usage.BandwidthUsedBytes)

			return txn.CreateLease(makeLease(tenantID, periodID, "dp-a", 200, time.Now().Add(5*time.Minute)))
		})
		require.NoError(t, err)

		err = store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			usage, err := txn.Usage()
			require.NoError(t, err)
			assert.Equal(t, int64(500), usage.BandwidthUsedBytes)
			assert.Equal(t, int64(3), usage.TransformsUsed)

			lease, err := txn.ActiveLease("dp-a")
			require.NoError(t, err)
			assert.Equal(t, int64(200), lease.BandwidthGrantedBytes)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("callback error rolls the transaction back", func(t *testing.T) {
		tenantID, periodID := uuid.New(), uuid.New()
		boom := errors.New("boom")

		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			if _, err := txn.AddUsage(999, 9); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			usage, err := txn.Usage()
			require.NoError(t, err)
			assert.Zero(t, usage.BandwidthUsedBytes)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("view rejects mutations", func(t *testing.T) {
		tenantID, periodID := uuid.New(), uuid.New()

		err := store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			_, err := txn.AddUsage(1, 1)
			assert.Error(t, err)

			lease := makeLease(tenantID, periodID, "dp-a", 10, time.Now().Add(time.Minute))
			assert.Error(t, txn.CreateLease(lease))
			assert.Error(t, txn.SaveLease(lease))
			assert.Error(t, txn.PutIdempotency(&models.IdempotencyRecord{
				Key:      uuid.New(),
				Kind:     models.IdempotencyKindAllocate,
				TenantID: tenantID,
				PeriodID: periodID,
				Response: []byte(`{}`),
			}))
			return nil
		})
		require.NoError(t, err)

		err = store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			usage, err := txn.Usage()
			require.NoError(t, err)
			assert.Zero(t, usage.BandwidthUsedBytes)

			leases, err := txn.ActiveLeases()
			require.NoError(t, err)
			assert.Empty(t, leases)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("missing lease maps to ErrLeaseNotFound", func(t *testing.T) {
		err := store.View(ctx, uuid.New(), uuid.New(), func(txn ledger.Txn) error {
			_, err := txn.ActiveLease("dp-missing")
			assert.ErrorIs(t, err, ledger.ErrLeaseNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("idempotency records share the transaction", func(t *testing.T) {
		tenantID, periodID := uuid.New(), uuid.New()
		key := uuid.New()

		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			rec, err := txn.Idempotency(key)
			require.NoError(t, err)
			require.Nil(t, rec)

			return txn.PutIdempotency(&models.IdempotencyRecord{
				Key:      key,
				Kind:     models.IdempotencyKindAllocate,
				TenantID: tenantID,
				PeriodID: periodID,
				Response: []byte(`{"lease_id":"x"}`),
			})
		})
		require.NoError(t, err)

		err = store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			rec, err := txn.Idempotency(key)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.JSONEq(t, `{"lease_id":"x"}`, string(rec.Response))
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("concurrent updates on one tuple serialize", func(t *testing.T) {
		tenantID, periodID := uuid.New(), uuid.New()
		const limit = int64(1000)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
					leases, err := txn.ActiveLeases()
					if err != nil {
						return err
					}
					var outstanding int64
					for _, l := range leases {
						outstanding += l.BandwidthGrantedBytes
					}
					grant := limit - outstanding
					if grant > 100 {
						grant = 100
					}
					if grant <= 0 {
						return nil
					}
					return txn.CreateLease(makeLease(tenantID, periodID, "dp", grant, time.Now().Add(time.Minute)))
				})
			}()
		}
		wg.Wait()

		err := store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			leases, err := txn.ActiveLeases()
			require.NoError(t, err)

			var total int64
			for _, l := range leases {
				total += l.BandwidthGrantedBytes
			}
			assert.LessOrEqual(t, total, limit)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("expire and purge maintenance", func(t *testing.T) {
		tenantID, periodID := uuid.New(), uuid.New()
		now := time.Now().UTC()

		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			if err := txn.CreateLease(makeLease(tenantID, periodID, "dp-old", 100, now.Add(-time.Minute))); err != nil {
				return err
			}
			return txn.CreateLease(makeLease(tenantID, periodID, "dp-new", 100, now.Add(time.Minute)))
		})
		require.NoError(t, err)

		swept, err := store.ExpireLeases(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), swept)

		err = store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			leases, err := txn.ActiveLeases()
			require.NoError(t, err)
			require.Len(t, leases, 1)
			assert.Equal(t, "dp-new", leases[0].DataplaneID)
			return nil
		})
		require.NoError(t, err)

		purged, err := store.PurgeIdempotency(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(0))
	})
}
