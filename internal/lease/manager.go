// Package lease implements budget lease allocation for data planes.
package lease

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
	"github.com/pxl8/controlplane/internal/policy"
	"github.com/pxl8/controlplane/internal/quota"
)

// DefaultTTL is how long a lease authorizes spending before the hard cutoff.
const DefaultTTL = 5 * time.Minute

var (
	allocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_allocations_total",
			Help: "Total number of lease allocation requests",
		},
		[]string{"result"}, // granted, zero_grant, replayed, refused, error
	)

	grantedBandwidth = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_granted_bandwidth_bytes_total",
			Help: "Total bandwidth bytes granted through leases",
		},
	)

	grantedTransforms = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "controlplane_granted_transforms_total",
			Help: "Total transform count granted through leases",
		},
	)
)

// AllocateRequest is the allocation contract from a data plane.
type AllocateRequest struct {
	RequestID               uuid.UUID `json:"request_id"`
	DataplaneID             string    `json:"dataplane_id"`
	TenantID                uuid.UUID `json:"tenant_id"`
	PeriodID                uuid.UUID `json:"period_id"`
	BandwidthRequestedBytes int64     `json:"bandwidth_requested_bytes"`
	TransformsRequested     int64     `json:"transforms_requested"`
}

// AllocateResponse is the granted lease. A zero grant is a valid lease:
// exhaustion is signalled through amounts, never through errors.
type AllocateResponse struct {
	LeaseID               uuid.UUID `json:"lease_id"`
	BandwidthGrantedBytes int64     `json:"bandwidth_granted_bytes"`
	TransformsGranted     int64     `json:"transforms_granted"`
	GrantedAt             time.Time `json:"granted_at"`
	ExpiresAt             time.Time `json:"expires_at"`
}

// Manager serves allocation requests against the lease ledger.
type Manager struct {
	store    ledger.Store
	policies policy.Provider
	logger   *zap.Logger
	ttl      time.Duration
	now      func() time.Time
}

type ManagerConfig struct {
	Store    ledger.Store
	Policies policy.Provider
	Logger   *zap.Logger
	TTL      time.Duration
}

func NewManager(cfg *ManagerConfig) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}

	return &Manager{
		store:    cfg.Store,
		policies: cfg.Policies,
		logger:   cfg.Logger,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
}

// Allocate hands out a budget lease. Idempotent by request_id: a replay
// returns the originally stored response unchanged, even if current
// state would grant differently. A new allocation for a tuple that
// already holds an active lease replaces it, folding the old unused
// grant back into the pool before computing the new one.
func (m *Manager) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error) {
	if err := validateAllocate(req); err != nil {
		allocationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var resp *AllocateResponse
	var replayed bool

	err := m.store.Update(ctx, req.TenantID, req.PeriodID, func(txn ledger.Txn) error {
		stored, err := txn.Idempotency(req.RequestID)
		if err != nil {
			return err
		}
		if stored != nil {
			var prev AllocateResponse
			if err := json.Unmarshal(stored.Response, &prev); err != nil {
				return fmt.Errorf("corrupt idempotency record %s: %w", req.RequestID, err)
			}
			resp = &prev
			replayed = true
			return nil
		}

		pol, err := m.policies.GetTenantPolicy(ctx, req.TenantID)
		if err != nil {
			if errors.Is(err, policy.ErrTenantNotFound) {
				return apierror.TenantNotActive("tenant is not known to the policy snapshot")
			}
			return err
		}
		if !pol.IsActive() {
			return apierror.TenantNotActive(fmt.Sprintf("tenant status is %s", pol.Status))
		}

		now := m.now()

		leases, err := txn.ActiveLeases()
		if err != nil {
			return err
		}

		// Replace, never stack: close the tuple's previous lease so its
		// unused grant stops counting before the new grant is computed.
		outstanding := leases[:0]
		for _, l := range leases {
			if l.DataplaneID == req.DataplaneID {
				l.State = models.LeaseStateReconciled
				if err := txn.SaveLease(l); err != nil {
					return err
				}
				continue
			}
			outstanding = append(outstanding, l)
		}

		usage, err := txn.Usage()
		if err != nil {
			return err
		}

		avail := quota.Available(pol.Quotas, usage, outstanding, now)
		bandwidth, transforms := avail.Grant(req.BandwidthRequestedBytes, req.TransformsRequested)

		lease := &models.Lease{
			TenantID:              req.TenantID,
			PeriodID:              req.PeriodID,
			DataplaneID:           req.DataplaneID,
			BandwidthGrantedBytes: bandwidth,
			TransformsGranted:     transforms,
			GrantedAt:             now,
			ExpiresAt:             now.Add(m.ttl),
			RequestID:             req.RequestID,
			State:                 models.LeaseStateActive,
		}
		if err := txn.CreateLease(lease); err != nil {
			return err
		}

		resp = &AllocateResponse{
			LeaseID:               lease.ID,
			BandwidthGrantedBytes: bandwidth,
			TransformsGranted:     transforms,
			GrantedAt:             lease.GrantedAt,
			ExpiresAt:             lease.ExpiresAt,
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to marshal allocation response: %w", err)
		}
		return txn.PutIdempotency(&models.IdempotencyRecord{
			Key:      req.RequestID,
			Kind:     models.IdempotencyKindAllocate,
			TenantID: req.TenantID,
			PeriodID: req.PeriodID,
			Response: payload,
		})
	})
	if err != nil {
		m.recordFailure(err)
		return nil, m.mapError(err)
	}

	switch {
	case replayed:
		allocationsTotal.WithLabelValues("replayed").Inc()
	case resp.BandwidthGrantedBytes == 0 && resp.TransformsGranted == 0:
		allocationsTotal.WithLabelValues("zero_grant").Inc()
	default:
		allocationsTotal.WithLabelValues("granted").Inc()
		grantedBandwidth.Add(float64(resp.BandwidthGrantedBytes))
		grantedTransforms.Add(float64(resp.TransformsGranted))
	}

	m.logger.Debug("Lease allocated",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("period_id", req.PeriodID.String()),
		zap.String("dataplane_id", req.DataplaneID),
		zap.String("lease_id", resp.LeaseID.String()),
		zap.Int64("bandwidth_granted_bytes", resp.BandwidthGrantedBytes),
		zap.Int64("transforms_granted", resp.TransformsGranted),
		zap.Bool("replayed", replayed))

	return resp, nil
}

func (m *Manager) recordFailure(err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) && apiErr.Code == apierror.CodeTenantNotActive {
		allocationsTotal.WithLabelValues("refused").Inc()
		return
	}
	allocationsTotal.WithLabelValues("error").Inc()
}

func (m *Manager) mapError(err error) error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, ledger.ErrStorage) {
		return apierror.StorageUnavailable(err)
	}
	return apierror.Internal(err)
}

func validateAllocate(req *AllocateRequest) error {
	switch {
	case req.RequestID == uuid.Nil:
		return apierror.InvalidArgument("request_id is required")
	case req.DataplaneID == "":
		return apierror.InvalidArgument("dataplane_id is required")
	case req.TenantID == uuid.Nil:
		return apierror.InvalidArgument("tenant_id is required")
	case req.PeriodID == uuid.Nil:
		return apierror.InvalidArgument("period_id is required")
	case req.BandwidthRequestedBytes < 0:
		return apierror.InvalidArgument("bandwidth_requested_bytes must not be negative")
	case req.TransformsRequested < 0:
		return apierror.InvalidArgument("transforms_requested must not be negative")
	}
	return nil
}
