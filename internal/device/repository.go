package device

import (
	"context"
	"sync"
	"time"
)

// Repository defines the interface for device data operations.
//
// GetOrCreate and ConsumeQuota are read-modify-write sequences; every
// implementation must serialize concurrent calls touching the same device
// rather than lose updates.
type Repository interface {
	// GetOrCreate looks up a device by its external identifier, creating it
	// when absent. On every hit it bumps last-seen and applies the
	// device -> linked-account upgrade when the request carries the stronger
	// kind. Downgrade attempts leave the stored kind untouched.
	GetOrCreate(ctx context.Context, externalID string, kind AuthKind, now time.Time) (*Device, error)

	// Get looks up a device without creating it. Returns ErrNotFound when
	// the identifier has never been seen.
	Get(ctx context.Context, externalID string) (*Device, error)

	// GetByID looks up a device by its internal id.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// ConsumeQuota atomically applies the lazy daily reset, checks the
	// DailyPinLimit ceiling, and increments the counter. Returns
	// ErrQuotaExceeded without mutating anything when the ceiling is hit.
	ConsumeQuota(ctx context.Context, id int64, now time.Time) error

	// Count returns the total number of registered devices.
	Count(ctx context.Context) (int64, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via mutex; used for testing and development.
type InMemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	byExt  map[string]*Device
	byID   map[int64]*Device
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		nextID: 1,
		byExt:  make(map[string]*Device),
		byID:   make(map[int64]*Device),
	}
}

// GetOrCreate looks up a device by external identifier, creating it when absent.
func (r *InMemoryRepository) GetOrCreate(ctx context.Context, externalID string, kind AuthKind, now time.Time) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !kind.Valid() {
		kind = KindDevice
	}

	d, ok := r.byExt[externalID]
	if !ok {
		d = &Device{
			ID:           r.nextID,
			ExternalID:   externalID,
			Kind:         kind,
			CreatedAt:    now.UTC(),
			LastSeenAt:   now.UTC(),
			QuotaResetAt: now.UTC(),
		}
		r.nextID++
		r.byExt[externalID] = d
		r.byID[d.ID] = d
		return copyDevice(d), nil
	}

	d.LastSeenAt = now.UTC()
	if kind == KindLinkedAccount && d.Kind == KindDevice {
		// One-directional upgrade; the reverse is rejected by UpgradeKind
		// and simply not attempted here.
		d.Kind = KindLinkedAccount
	}
	return copyDevice(d), nil
}

// Get looks up a device without creating it.
func (r *InMemoryRepository) Get(ctx context.Context, externalID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byExt[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(d), nil
}

// GetByID looks up a device by its internal id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(d), nil
}

// ConsumeQuota atomically checks and increments the daily pin counter.
func (r *InMemoryRepository) ConsumeQuota(ctx context.Context, id int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}

	d.ResetQuotaIfNewDay(now)
	if d.PinsCreatedToday >= DailyPinLimit {
		return ErrQuotaExceeded
	}
	d.PinsCreatedToday++
	return nil
}

// Count returns the total number of registered devices.
func (r *InMemoryRepository) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}

// copyDevice returns a copy to prevent external mutation of stored state.
func copyDevice(d *Device) *Device {
	dc := *d
	if d.AccountID != nil {
		id := *d.AccountID
		dc.AccountID = &id
	}
	return &dc
}
