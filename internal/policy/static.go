package policy

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StaticProvider serves policies from an in-memory table. It backs lite
// mode (no Redis) and tests.
type StaticProvider struct {
	mu       sync.RWMutex
	policies map[uuid.UUID]*TenantPolicy
}

func NewStaticProvider(policies ...*TenantPolicy) *StaticProvider {
	p := &StaticProvider{
		policies: make(map[uuid.UUID]*TenantPolicy),
	}
	for _, pol := range policies {
		p.policies[pol.TenantID] = pol
	}
	return p
}

func (p *StaticProvider) GetTenantPolicy(ctx context.Context, tenantID uuid.UUID) (*TenantPolicy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pol, ok := p.policies[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}

	cp := *pol
	return &cp, nil
}

func (p *StaticProvider) SetTenantPolicy(pol *TenantPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policies[pol.TenantID] = pol
}
