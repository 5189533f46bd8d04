// Package usage aggregates consumption reports from data planes into
// the authoritative period totals and reconciles them against leases.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/apierror"
	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/models"
)

var (
	reportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_usage_reports_total",
			Help: "Total number of usage reports",
		},
		[]string{"result"}, // accepted, duplicate, error
	)

	reportedBandwidth = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_reported_bandwidth_bytes_total",
			Help: "Total bandwidth bytes reported by data planes",
		},
	)

	reportedTransforms = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_reported_transforms_total",
			Help: "Total transform count reported by data planes",
		},
	)
)

// ReportRequest is a consumption delta from one data plane. Amounts are
// deltas since the previous report, not cumulative totals.
type ReportRequest struct {
	ReportID           uuid.UUID `json:"report_id"`
	DataplaneID        string    `json:"dataplane_id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	PeriodID           uuid.UUID `json:"period_id"`
	BandwidthUsedBytes int64     `json:"bandwidth_used_bytes"`
	TransformsUsed     int64     `json:"transforms_used"`
	ReportedAt         time.Time `json:"reported_at"`
}

// ReportResponse carries the cross-dataplane aggregate after the report
// was applied. Accepted is false only for a duplicate report_id; the
// totals then reflect the aggregate as of the original processing.
type ReportResponse struct {
	Accepted            bool  `json:"accepted"`
	TotalBandwidthBytes int64 `json:"total_bandwidth_bytes"`
	TotalTransforms     int64 `json:"total_transforms"`
}

// Aggregator applies usage reports to the ledger.
type Aggregator struct {
	store  ledger.Store
	logger *zap.Logger
}

func NewAggregator(store ledger.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger,
	}
}

// Report applies a consumption delta. Idempotent by report_id. Reports
// are never rejected for exceeding a lease's grant: leases bound future
// grants, not past consumption, so enforcement lives entirely at
// allocation time. A matching active lease is reconciled, releasing its
// unused remainder back to available quota.
func (a *Aggregator) Report(ctx context.Context, req *ReportRequest) (*ReportResponse, error) {
	if err := validateReport(req); err != nil {
		reportsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var resp *ReportResponse
	var duplicate bool

	err := a.store.Update(ctx, req.TenantID, req.PeriodID, func(txn ledger.Txn) error {
		stored, err := txn.Idempotency(req.ReportID)
		if err != nil {
			return err
		}
		if stored != nil {
			var prev ReportResponse
			if err := json.Unmarshal(stored.Response, &prev); err != nil {
				return fmt.Errorf("corrupt idempotency record %s: %w", req.ReportID, err)
			}
			prev.Accepted = false
			resp = &prev
			duplicate = true
			return nil
		}

		totals, err := txn.AddUsage(req.BandwidthUsedBytes, req.TransformsUsed)
		if err != nil {
			return err
		}

		lease, err := txn.ActiveLease(req.DataplaneID)
		if err != nil && !errors.Is(err, ledger.ErrLeaseNotFound) {
			return err
		}
		if lease != nil {
			lease.State = models.LeaseStateReconciled
			if err := txn.SaveLease(lease); err != nil {
				return err
			}
		}

		resp = &ReportResponse{
			Accepted:            true,
			TotalBandwidthBytes: totals.BandwidthUsedBytes,
			TotalTransforms:     totals.TransformsUsed,
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to marshal report response: %w", err)
		}
		return txn.PutIdempotency(&models.IdempotencyRecord{
			Key:      req.ReportID,
			Kind:     models.IdempotencyKindReport,
			TenantID: req.TenantID,
			PeriodID: req.PeriodID,
			Response: payload,
		})
	})
	if err != nil {
		reportsTotal.WithLabelValues("error").Inc()
		return nil, a.mapError(err)
	}

	if duplicate {
		reportsTotal.WithLabelValues("duplicate").Inc()
	} else {
		reportsTotal.WithLabelValues("accepted").Inc()
		reportedBandwidth.Add(float64(req.BandwidthUsedBytes))
		reportedTransforms.Add(float64(req.TransformsUsed))
	}

	a.logger.Debug("Usage report processed",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("period_id", req.PeriodID.String()),
		zap.String("dataplane_id", req.DataplaneID),
		zap.Bool("accepted", resp.Accepted),
		zap.Int64("total_bandwidth_bytes", resp.TotalBandwidthBytes),
		zap.Int64("total_transforms", resp.TotalTransforms))

	return resp, nil
}

func (a *Aggregator) mapError(err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, ledger.ErrStorage) {
		return apierror.StorageUnavailable(err)
	}
	return apierror.Internal(err)
}

func validateReport(req *ReportRequest) error {
	switch {
	case req.ReportID == uuid.Nil:
		return apierror.InvalidArgument("report_id is required")
	case req.DataplaneID == "":
		return apierror.InvalidArgument("dataplane_id is required")
	case req.TenantID == uuid.Nil:
		return apierror.InvalidArgument("tenant_id is required")
	case req.PeriodID == uuid.Nil:
		return apierror.InvalidArgument("period_id is required")
	case req.BandwidthUsedBytes < 0:
		return apierror.InvalidArgument("bandwidth_used_bytes must not be negative")
	case req.TransformsUsed < 0:
		return apierror.InvalidArgument("transforms_used must not be negative")
	}
	return nil
}
