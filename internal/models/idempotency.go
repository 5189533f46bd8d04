package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IdempotencyKind distinguishes which operation a record guards.
type IdempotencyKind string

const (
	IdempotencyKindAllocate IdempotencyKind = "allocate"
	IdempotencyKindReport   IdempotencyKind = "report"
)

// IdempotencyRecord stores the response produced the first time a
// request_id or report_id was processed. Replays return the stored
// payload instead of re-running the mutation. Records are written in
// the same ledger transaction as the mutation they guard and are
// garbage-collected after the configured retention window.
type IdempotencyRecord struct {
	BaseModel
	Key  uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"key"`
	Kind IdempotencyKind `gorm:"not null" json:"kind"`

	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	PeriodID uuid.UUID `gorm:"type:uuid;not null" json:"period_id"`

	// Response is the original JSON payload, returned verbatim on replay.
	Response datatypes.JSON `gorm:"not null" json:"response"`
}

func (r *IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
