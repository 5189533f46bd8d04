package models

import (
	"time"

	"github.com/google/uuid"
)

// LeaseState is the lifecycle state of a budget lease.
type LeaseState string

const (
	// LeaseStateActive counts against available quota until expiry or reconciliation.
	LeaseStateActive LeaseState = "active"
	// LeaseStateReconciled means a usage report (or a replacing allocation)
	// accounted for the lease; its unused grant is back in the pool.
	LeaseStateReconciled LeaseState = "reconciled"
	// LeaseStateExpired is set by the sweeper once expires_at has passed.
	// Expiry itself is logical: an active lease past its deadline already
	// contributes zero to outstanding grants.
	LeaseStateExpired LeaseState = "expired"
)

// Lease is a time-bounded grant of spending rights against a tenant's
// period quota, issued to a single data plane.
type Lease struct {
	BaseModel
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index:idx_leases_tenant_period" json:"tenant_id"`
	PeriodID    uuid.UUID `gorm:"type:uuid;not null;index:idx_leases_tenant_period" json:"period_id"`
	DataplaneID string    `gorm:"not null;index" json:"dataplane_id"`

	BandwidthGrantedBytes int64 `gorm:"not null" json:"bandwidth_granted_bytes"`
	TransformsGranted     int64 `gorm:"not null" json:"transforms_granted"`

	GrantedAt time.Time `gorm:"not null" json:"granted_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`

	// RequestID is the idempotency key of the allocation that created the lease.
	RequestID uuid.UUID  `gorm:"type:uuid;not null;index" json:"request_id"`
	State     LeaseState `gorm:"not null;default:'active';index" json:"state"`
}

func (l *Lease) TableName() string {
	return "leases"
}

// IsExpired reports whether the lease deadline has passed at the given
// instant, regardless of whether the sweeper has flipped its state yet.
func (l *Lease) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Outstanding reports whether the lease still counts against available quota.
func (l *Lease) Outstanding(now time.Time) bool {
	return l.State == LeaseStateActive && !l.IsExpired(now)
}
