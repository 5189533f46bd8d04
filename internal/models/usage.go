package models

import (
	"github.com/google/uuid"
)

// PeriodUsage is the ledger row for one (tenant, period): the durable,
// cross-dataplane aggregate of consumed quota. Counters only grow; the
// row is the unit of mutual exclusion for allocations and reports.
type PeriodUsage struct {
	BaseModel
	TenantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_period_usage_tenant_period" json:"tenant_id"`
	PeriodID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_period_usage_tenant_period" json:"period_id"`

	BandwidthUsedBytes int64 `gorm:"not null;default:0" json:"bandwidth_used_bytes"`
	TransformsUsed     int64 `gorm:"not null;default:0" json:"transforms_used"`
}

func (u *PeriodUsage) TableName() string {
	return "period_usage"
}
