package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pxl8/controlplane/internal/models"
)

// MemoryStore keeps the ledger in process memory with a mutex per
// (tenant, period) tuple. It backs lite mode (single instance, no
// Postgres) and tests. Semantics match GormStore: full rollback when
// the transaction callback fails.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	idemp   map[uuid.UUID]*models.IdempotencyRecord
	idempMu sync.Mutex
}

type bucketKey struct {
	tenantID uuid.UUID
	periodID uuid.UUID
}

type bucket struct {
	mu     sync.Mutex
	usage  models.PeriodUsage
	leases map[uuid.UUID]*models.Lease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[bucketKey]*bucket),
		idemp:   make(map[uuid.UUID]*models.IdempotencyRecord),
	}
}

func (s *MemoryStore) bucket(tenantID, periodID uuid.UUID) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey{tenantID: tenantID, periodID: periodID}
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{
			usage: models.PeriodUsage{
				BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
				TenantID:  tenantID,
				PeriodID:  periodID,
			},
			leases: make(map[uuid.UUID]*models.Lease),
		}
		s.buckets[key] = b
	}
	return b
}

func (s *MemoryStore) Update(ctx context.Context, tenantID, periodID uuid.UUID, fn func(Txn) error) error {
	b := s.bucket(tenantID, periodID)

	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := b.snapshot()

	// Idempotency writes are buffered in the txn and published only on
	// commit, so a rollback discards them without touching records that
	// other tuples committed in the meantime.
	txn := &memoryTxn{store: s, bucket: b, pending: make(map[uuid.UUID]*models.IdempotencyRecord)}
	if err := fn(txn); err != nil {
		b.restore(snapshot)
		return err
	}

	s.commitIdempotency(txn.pending)
	return nil
}

func (s *MemoryStore) View(ctx context.Context, tenantID, periodID uuid.UUID, fn func(Txn) error) error {
	b := s.bucket(tenantID, periodID)

	b.mu.Lock()
	defer b.mu.Unlock()

	return fn(&memoryTxn{store: s, bucket: b, readOnly: true})
}

func (s *MemoryStore) ExpireLeases(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	buckets := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.mu.Unlock()

	var swept int64
	for _, b := range buckets {
		b.mu.Lock()
		for _, lease := range b.leases {
			if lease.State == models.LeaseStateActive && lease.IsExpired(now) {
				lease.State = models.LeaseStateExpired
				lease.UpdatedAt = now
				swept++
			}
		}
		b.mu.Unlock()
	}
	return swept, nil
}

func (s *MemoryStore) PurgeIdempotency(ctx context.Context, olderThan time.Time) (int64, error) {
	s.idempMu.Lock()
	defer s.idempMu.Unlock()

	var purged int64
	for key, rec := range s.idemp {
		if rec.CreatedAt.Before(olderThan) {
			delete(s.idemp, key)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) commitIdempotency(pending map[uuid.UUID]*models.IdempotencyRecord) {
	if len(pending) == 0 {
		return
	}

	s.idempMu.Lock()
	defer s.idempMu.Unlock()
	for key, rec := range pending {
		s.idemp[key] = rec
	}
}

func (b *bucket) snapshot() *bucket {
	cp := &bucket{
		usage:  b.usage,
		leases: make(map[uuid.UUID]*models.Lease, len(b.leases)),
	}
	for id, lease := range b.leases {
		l := *lease
		cp.leases[id] = &l
	}
	return cp
}

func (b *bucket) restore(snap *bucket) {
	b.usage = snap.usage
	b.leases = snap.leases
}

type memoryTxn struct {
	store    *MemoryStore
	bucket   *bucket
	pending  map[uuid.UUID]*models.IdempotencyRecord
	readOnly bool
}

var errReadOnlyTxn = errors.New("mutation inside read-only transaction")

func (t *memoryTxn) Usage() (*models.PeriodUsage, error) {
	usage := t.bucket.usage
	return &usage, nil
}

func (t *memoryTxn) AddUsage(bandwidthBytes, transforms int64) (*models.PeriodUsage, error) {
	if t.readOnly {
		return nil, errReadOnlyTxn
	}

	t.bucket.usage.BandwidthUsedBytes += bandwidthBytes
	t.bucket.usage.TransformsUsed += transforms
	t.bucket.usage.UpdatedAt = time.Now()

	usage := t.bucket.usage
	return &usage, nil
}

func (t *memoryTxn) ActiveLeases() ([]*models.Lease, error) {
	var leases []*models.Lease
	for _, lease := range t.bucket.leases {
		if lease.State == models.LeaseStateActive {
			l := *lease
			leases = append(leases, &l)
		}
	}
	return leases, nil
}

func (t *memoryTxn) ActiveLease(dataplaneID string) (*models.Lease, error) {
	for _, lease := range t.bucket.leases {
		if lease.State == models.LeaseStateActive && lease.DataplaneID == dataplaneID {
			l := *lease
			return &l, nil
		}
	}
	return nil, ErrLeaseNotFound
}

func (t *memoryTxn) CreateLease(lease *models.Lease) error {
	if t.readOnly {
		return errReadOnlyTxn
	}

	if lease.ID == uuid.Nil {
		lease.ID = uuid.New()
	}
	now := time.Now()
	lease.CreatedAt = now
	lease.UpdatedAt = now

	l := *lease
	t.bucket.leases[lease.ID] = &l
	return nil
}

func (t *memoryTxn) SaveLease(lease *models.Lease) error {
	if t.readOnly {
		return errReadOnlyTxn
	}

	lease.UpdatedAt = time.Now()
	l := *lease
	t.bucket.leases[lease.ID] = &l
	return nil
}

func (t *memoryTxn) Idempotency(key uuid.UUID) (*models.IdempotencyRecord, error) {
	if rec, ok := t.pending[key]; ok {
		cp := *rec
		return &cp, nil
	}

	t.store.idempMu.Lock()
	defer t.store.idempMu.Unlock()

	rec, ok := t.store.idemp[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (t *memoryTxn) PutIdempotency(rec *models.IdempotencyRecord) error {
	if t.readOnly {
		return errReadOnlyTxn
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	t.pending[rec.Key] = &cp
	return nil
}
