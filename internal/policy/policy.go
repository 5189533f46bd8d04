package policy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrTenantNotFound = errors.New("tenant policy not found")

// TenantStatus is the lifecycle state of a tenant as published by the
// policy snapshot. Anything other than active refuses allocation.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Quotas are the per-period (bandwidth, transforms) and whole-account
// (storage, domains) limits for a tenant. The quota core consumes the
// first two; the rest ride along with the snapshot contract.
type Quotas struct {
	BandwidthLimitBytes int64 `json:"bandwidth_limit_bytes"`
	TransformsLimit     int64 `json:"transforms_limit"`
	StorageLimitBytes   int64 `json:"storage_limit_bytes"`
	DomainsLimit        int64 `json:"domains_limit"`
}

// Domain is a delivery domain entry from the snapshot.
type Domain struct {
	Domain   string `json:"domain"`
	Verified bool   `json:"verified"`
}

// APIKey is the validation material for one tenant API key. The control
// plane core never validates keys; it carries them for completeness of
// the snapshot read contract.
type APIKey struct {
	KeyPrefix string `json:"key_prefix"`
	KeyHMAC   string `json:"key_hmac"`
	Status    string `json:"status"`
}

// TenantPolicy is one tenant's entry in the policy snapshot.
type TenantPolicy struct {
	TenantID uuid.UUID    `json:"tenant_id"`
	Status   TenantStatus `json:"status"`
	PlanCode string       `json:"plan_code"`
	Quotas   Quotas       `json:"quotas"`
	Domains  []Domain     `json:"domains,omitempty"`
	APIKeys  []APIKey     `json:"api_keys,omitempty"`
}

// IsActive reports whether the tenant may receive grants. Suspended and
// deleted tenants are refused uniformly.
func (p *TenantPolicy) IsActive() bool {
	return p.Status == TenantStatusActive
}

// Provider supplies the current tenant policy. Limits can change
// intra-period (plan upgrades), so callers must read at decision time
// rather than caching across allocations.
type Provider interface {
	GetTenantPolicy(ctx context.Context, tenantID uuid.UUID) (*TenantPolicy, error)
}
