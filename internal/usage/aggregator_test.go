package usage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/apierror"
	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/models"
)

func reportReq(tenantID, periodID uuid.UUID, dataplane string, bw, tf int64) *ReportRequest {
	return &ReportRequest{
		ReportID:           uuid.New(),
		DataplaneID:        dataplane,
		TenantID:           tenantID,
		PeriodID:           periodID,
		BandwidthUsedBytes: bw,
		TransformsUsed:     tf,
		ReportedAt:         time.Now().UTC(),
	}
}

func TestReport(t *testing.T) {
	ctx := context.Background()

	t.Run("accumulates deltas across data planes", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		agg := NewAggregator(store, zap.NewNop())
		tenantID, periodID := uuid.New(), uuid.New()

		resp, err := agg.Report(ctx, reportReq(tenantID, periodID, "dp-a", 300, 2))
		require.NoError(t, err)
		assert.True(t, resp.Accepted)
		assert.Equal(t, int64(300), resp.TotalBandwidthBytes)
		assert.Equal(t, int64(2), resp.TotalTransforms)

		resp, err = agg.Report(ctx, reportReq(tenantID, periodID, "dp-b", 200, 3))
		require.NoError(t, err)
		assert.True(t, resp.Accepted)
		assert.Equal(t, int64(500), resp.TotalBandwidthBytes)
		assert.Equal(t, int64(5), resp.TotalTransforms)
	})

	t.Run("duplicate report is not re-applied", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		agg := NewAggregator(store, zap.NewNop())
		tenantID, periodID := uuid.New(), uuid.New()

		req := reportReq(tenantID, periodID, "dp-a", 300, 2)
		first, err := agg.Report(ctx, req)
		require.NoError(t, err)
		assert.True(t, first.Accepted)

		// Another report lands between the original and the retry.
		_, err = agg.Report(ctx, reportReq(tenantID, periodID, "dp-b", 100, 1))
		require.NoError(t, err)

		second, err := agg.Report(ctx, req)
		require.NoError(t, err)
		assert.False(t, second.Accepted)
		// Totals are frozen at the original processing, not current state.
		assert.Equal(t, first.TotalBandwidthBytes, second.TotalBandwidthBytes)
		assert.Equal(t, first.TotalTransforms, second.TotalTransforms)
	})

	t.Run("reconciles the reporting dataplane's active lease", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		agg := NewAggregator(store, zap.NewNop())
		tenantID, periodID := uuid.New(), uuid.New()

		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			return txn.CreateLease(&models.Lease{
				TenantID:              tenantID,
				PeriodID:              periodID,
				DataplaneID:           "dp-a",
				BandwidthGrantedBytes: 800,
				TransformsGranted:     8,
				GrantedAt:             time.Now(),
				ExpiresAt:             time.Now().Add(5 * time.Minute),
				RequestID:             uuid.New(),
				State:                 models.LeaseStateActive,
			})
		})
		require.NoError(t, err)

		_, err = agg.Report(ctx, reportReq(tenantID, periodID, "dp-a", 500, 5))
		require.NoError(t, err)

		err = store.View(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			_, err := txn.ActiveLease("dp-a")
			assert.ErrorIs(t, err, ledger.ErrLeaseNotFound)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("report without a lease is accepted", func(t *testing.T) {
		// The grant may have expired before the report arrived; the spend
		// already happened and the ledger must reflect it.
		store := ledger.NewMemoryStore()
		agg := NewAggregator(store, zap.NewNop())

		resp, err := agg.Report(ctx, reportReq(uuid.New(), uuid.New(), "dp-a", 400, 4))
		require.NoError(t, err)
		assert.True(t, resp.Accepted)
		assert.Equal(t, int64(400), resp.TotalBandwidthBytes)
	})

	t.Run("over-lease consumption is accepted", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		agg := NewAggregator(store, zap.NewNop())
		tenantID, periodID := uuid.New(), uuid.New()

		err := store.Update(ctx, tenantID, periodID, func(txn ledger.Txn) error {
			return txn.CreateLease(&models.Lease{
				TenantID:              tenantID,
				PeriodID:              periodID,
				DataplaneID:           "dp-a",
				BandwidthGrantedBytes: 100,
				TransformsGranted:     1,
				GrantedAt:             time.Now(),
				ExpiresAt:             time.Now().Add(5 * time.Minute),
				RequestID:             uuid.New(),
				State:                 models.LeaseStateActive,
			})
		})
		require.NoError(t, err)

		resp, err := agg.Report(ctx, reportReq(tenantID, periodID, "dp-a", 250, 3))
		require.NoError(t, err)
		assert.True(t, resp.Accepted)
		assert.Equal(t, int64(250), resp.TotalBandwidthBytes)
	})

	t.Run("validation", func(t *testing.T) {
		store := ledger.NewMemoryStore()
		agg := NewAggregator(store, zap.NewNop())

		cases := map[string]func(*ReportRequest){
			"missing report_id":    func(r *ReportRequest) { r.ReportID = uuid.Nil },
			"missing dataplane_id": func(r *ReportRequest) { r.DataplaneID = "" },
			"missing tenant_id":    func(r *ReportRequest) { r.TenantID = uuid.Nil },
			"missing period_id":    func(r *ReportRequest) { r.PeriodID = uuid.Nil },
			"negative bandwidth":   func(r *ReportRequest) { r.BandwidthUsedBytes = -1 },
			"negative transforms":  func(r *ReportRequest) { r.TransformsUsed = -1 },
		}

		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				req := reportReq(uuid.New(), uuid.New(), "dp-a", 100, 1)
				mutate(req)

				_, err := agg.Report(context.Background(), req)
				var apiErr *apierror.Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, apierror.CodeInvalidArgument, apiErr.Code)
			})
		}
	})
}
