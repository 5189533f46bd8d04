package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pxl8/controlplane/internal/models"
)

var (
	ErrLeaseNotFound = errors.New("lease not found")
	ErrStorage       = errors.New("ledger storage unavailable")
)

// Txn is the view of one (tenant, period) ledger row inside a store
// transaction. All reads and writes are serialized against every other
// transaction on the same tuple; operations on different tuples run in
// parallel. Idempotency records share the transaction so that a
// check-then-act on a request key cannot race a concurrent duplicate.
type Txn interface {
	// Usage returns the consumed totals for the tuple, zero-valued if
	// nothing was ever recorded.
	Usage() (*models.PeriodUsage, error)

	// AddUsage adds a consumption delta and returns the updated totals.
	AddUsage(bandwidthBytes, transforms int64) (*models.PeriodUsage, error)

	// ActiveLeases returns every lease for the tuple still in the active
	// state, including ones past their deadline that the sweeper has not
	// reclaimed yet. Callers apply logical expiry themselves.
	ActiveLeases() ([]*models.Lease, error)

	// ActiveLease returns the tuple's active lease for one data plane,
	// or ErrLeaseNotFound.
	ActiveLease(dataplaneID string) (*models.Lease, error)

	CreateLease(lease *models.Lease) error
	SaveLease(lease *models.Lease) error

	// Idempotency returns the stored record for a request/report key,
	// or nil if the key was never seen.
	Idempotency(key uuid.UUID) (*models.IdempotencyRecord, error)
	PutIdempotency(rec *models.IdempotencyRecord) error
}

// Store is the durable lease ledger. One logical row per (tenant,
// period) is the unit of mutual exclusion.
type Store interface {
	// Update runs fn inside a transaction serialized on the tuple.
	// If fn returns an error the transaction is rolled back.
	Update(ctx context.Context, tenantID, periodID uuid.UUID, fn func(Txn) error) error

	// View runs fn read-only. Implementations may still serialize on the
	// tuple; fn must not mutate.
	View(ctx context.Context, tenantID, periodID uuid.UUID, fn func(Txn) error) error

	// ExpireLeases flips active leases whose deadline passed before now
	// to the expired state. Storage hygiene only: availability math never
	// depends on it.
	ExpireLeases(ctx context.Context, now time.Time) (int64, error)

	// PurgeIdempotency deletes idempotency records created before the
	// cutoff and returns how many were removed.
	PurgeIdempotency(ctx context.Context, olderThan time.Time) (int64, error)
}
