package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pxl8/controlplane/internal/apierror"
	"github.com/pxl8/controlplane/internal/ledger"
	"github.com/pxl8/controlplane/internal/models"
)

// AdminHandler exposes read-only ledger state for operators.
type AdminHandler struct {
	logger *zap.Logger
	store  ledger.Store
}

func NewAdminHandler(logger *zap.Logger, store ledger.Store) *AdminHandler {
	return &AdminHandler{
		logger: logger,
		store:  store,
	}
}

type periodStateResponse struct {
	TenantID           uuid.UUID    `json:"tenant_id"`
	PeriodID           uuid.UUID    `json:"period_id"`
	BandwidthUsedBytes int64        `json:"bandwidth_used_bytes"`
	TransformsUsed     int64        `json:"transforms_used"`
	ActiveLeases       []leaseState `json:"active_leases"`
}

type leaseState struct {
	LeaseID               uuid.UUID `json:"lease_id"`
	DataplaneID           string    `json:"dataplane_id"`
	BandwidthGrantedBytes int64     `json:"bandwidth_granted_bytes"`
	TransformsGranted     int64     `json:"transforms_granted"`
	GrantedAt             time.Time `json:"granted_at"`
	ExpiresAt             time.Time `json:"expires_at"`
	Expired               bool      `json:"expired"`
}

// PeriodState handles GET /v1/tenants/{tenant_id}/periods/{period_id}.
func (h *AdminHandler) PeriodState(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenant_id"))
	if err != nil {
		writeError(w, h.logger, apierror.InvalidArgument("tenant_id must be a UUID"))
		return
	}
	periodID, err := uuid.Parse(chi.URLParam(r, "period_id"))
	if err != nil {
		writeError(w, h.logger, apierror.InvalidArgument("period_id must be a UUID"))
		return
	}

	now := time.Now()
	resp := periodStateResponse{
		TenantID:     tenantID,
		PeriodID:     periodID,
		ActiveLeases: []leaseState{},
	}

	err = h.store.View(r.Context(), tenantID, periodID, func(txn ledger.Txn) error {
		usage, err := txn.Usage()
		if err != nil {
			return err
		}
		resp.BandwidthUsedBytes = usage.BandwidthUsedBytes
		resp.TransformsUsed = usage.TransformsUsed

		leases, err := txn.ActiveLeases()
		if err != nil {
			return err
		}
		for _, l := range leases {
			resp.ActiveLeases = append(resp.ActiveLeases, toLeaseState(l, now))
		}
		return nil
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func toLeaseState(l *models.Lease, now time.Time) leaseState {
	return leaseState{
		LeaseID:               l.ID,
		DataplaneID:           l.DataplaneID,
		BandwidthGrantedBytes: l.BandwidthGrantedBytes,
		TransformsGranted:     l.TransformsGranted,
		GrantedAt:             l.GrantedAt,
		ExpiresAt:             l.ExpiresAt,
		Expired:               l.IsExpired(now),
	}
}
