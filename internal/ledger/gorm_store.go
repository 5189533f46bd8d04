package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pxl8/controlplane/internal/models"
)

// GormStore is the Postgres-backed ledger. Serialization per (tenant,
// period) comes from a row lock on the period_usage row: every Update
// first ensures the row exists, then takes SELECT ... FOR UPDATE on it,
// so all work for the tuple queues behind that lock while other tuples
// proceed independently.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Update(ctx context.Context, tenantID, periodID uuid.UUID, fn func(Txn) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		usage, err := lockPeriodRow(tx, tenantID, periodID)
		if err != nil {
			return err
		}

		if err := fn(&gormTxn{tx: tx, tenantID: tenantID, periodID: periodID, usage: usage}); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return wrapStorageErr(err)
}

func (s *GormStore) View(ctx context.Context, tenantID, periodID uuid.UUID, fn func(Txn) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usage models.PeriodUsage
		err := tx.Where("tenant_id = ? AND period_id = ?", tenantID, periodID).First(&usage).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			usage = models.PeriodUsage{TenantID: tenantID, PeriodID: periodID}
		} else if err != nil {
			return err
		}

		if err := fn(&gormTxn{tx: tx, tenantID: tenantID, periodID: periodID, usage: &usage, readOnly: true}); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	return wrapStorageErr(err)
}

func (s *GormStore) ExpireLeases(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Lease{}).
		Where("state = ? AND expires_at < ?", models.LeaseStateActive, now).
		Update("state", models.LeaseStateExpired)
	if result.Error != nil {
		return 0, wrapStorageErr(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) PurgeIdempotency(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", olderThan).
		Delete(&models.IdempotencyRecord{})
	if result.Error != nil {
		return 0, wrapStorageErr(result.Error)
	}
	return result.RowsAffected, nil
}

// lockPeriodRow makes sure the ledger row exists, then locks it for the
// duration of the transaction. The insert races with concurrent
// transactions on the same tuple; ON CONFLICT DO NOTHING makes the loser
// fall through to the lock.
func lockPeriodRow(tx *gorm.DB, tenantID, periodID uuid.UUID) (*models.PeriodUsage, error) {
	seed := models.PeriodUsage{TenantID: tenantID, PeriodID: periodID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("failed to seed period row: %w", err)
	}

	var usage models.PeriodUsage
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND period_id = ?", tenantID, periodID).
		First(&usage).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock period row: %w", err)
	}

	return &usage, nil
}

type gormTxn struct {
	tx       *gorm.DB
	tenantID uuid.UUID
	periodID uuid.UUID
	usage    *models.PeriodUsage
	readOnly bool
}

func (t *gormTxn) Usage() (*models.PeriodUsage, error) {
	return t.usage, nil
}

func (t *gormTxn) AddUsage(bandwidthBytes, transforms int64) (*models.PeriodUsage, error) {
	if t.readOnly {
		return nil, errReadOnlyTxn
	}

	t.usage.BandwidthUsedBytes += bandwidthBytes
	t.usage.TransformsUsed += transforms

	if err := t.tx.Save(t.usage).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to update usage totals: %v", ErrStorage, err)
	}
	return t.usage, nil
}

func (t *gormTxn) ActiveLeases() ([]*models.Lease, error) {
	var leases []*models.Lease
	err := t.tx.
		Where("tenant_id = ? AND period_id = ? AND state = ?", t.tenantID, t.periodID, models.LeaseStateActive).
		Find(&leases).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load active leases: %v", ErrStorage, err)
	}
	return leases, nil
}

func (t *gormTxn) ActiveLease(dataplaneID string) (*models.Lease, error) {
	var lease models.Lease
	err := t.tx.
		Where("tenant_id = ? AND period_id = ? AND dataplane_id = ? AND state = ?",
			t.tenantID, t.periodID, dataplaneID, models.LeaseStateActive).
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load active lease: %v", ErrStorage, err)
	}
	return &lease, nil
}

func (t *gormTxn) CreateLease(lease *models.Lease) error {
	if t.readOnly {
		return errReadOnlyTxn
	}

	if err := t.tx.Create(lease).Error; err != nil {
		return fmt.Errorf("%w: failed to create lease: %v", ErrStorage, err)
	}
	return nil
}

func (t *gormTxn) SaveLease(lease *models.Lease) error {
	if t.readOnly {
		return errReadOnlyTxn
	}

	if err := t.tx.Save(lease).Error; err != nil {
		return fmt.Errorf("%w: failed to save lease: %v", ErrStorage, err)
	}
	return nil
}

func (t *gormTxn) Idempotency(key uuid.UUID) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := t.tx.Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to look up idempotency record: %v", ErrStorage, err)
	}
	return &rec, nil
}

func (t *gormTxn) PutIdempotency(rec *models.IdempotencyRecord) error {
	if t.readOnly {
		return errReadOnlyTxn
	}

	if err := t.tx.Create(rec).Error; err != nil {
		return fmt.Errorf("%w: failed to store idempotency record: %v", ErrStorage, err)
	}
	return nil
}

func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
