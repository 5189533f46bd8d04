package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SnapshotProvider reads tenant policies from the Redis snapshot keys
// written by the policy distribution pipeline. Distribution itself is
// out of scope here; this is only the read side of the contract.
type SnapshotProvider struct {
	client *redis.Client
	logger *zap.Logger
}

func NewSnapshotProvider(client *redis.Client, logger *zap.Logger) *SnapshotProvider {
	return &SnapshotProvider{
		client: client,
		logger: logger,
	}
}

func (p *SnapshotProvider) GetTenantPolicy(ctx context.Context, tenantID uuid.UUID) (*TenantPolicy, error) {
	key := snapshotKey(tenantID)

	data, err := p.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy snapshot: %w", err)
	}

	var pol TenantPolicy
	if err := json.Unmarshal([]byte(data), &pol); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy snapshot: %w", err)
	}

	return &pol, nil
}

// PutTenantPolicy writes a policy entry. Used by seeding tools and tests;
// the production writer is the external snapshot publisher.
func (p *SnapshotProvider) PutTenantPolicy(ctx context.Context, pol *TenantPolicy) error {
	data, err := json.Marshal(pol)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if err := p.client.Set(ctx, snapshotKey(pol.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write policy snapshot: %w", err)
	}

	p.logger.Debug("Policy snapshot updated",
		zap.String("tenant_id", pol.TenantID.String()),
		zap.String("status", string(pol.Status)))

	return nil
}

func snapshotKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("policy:tenant:%s", tenantID)
}
