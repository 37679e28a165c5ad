package pin

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SanayKrishna/serendipity/internal/geo"
)

// Counts aggregates pin totals for stats endpoints.
type Counts struct {
	Total     int64
	Active    int64
	Community int64
}

// Repository defines storage operations for pins.
type Repository interface {
	// Create stores a new pin and assigns its ID.
	Create(ctx context.Context, p *Pin) error

	// GetByID returns a pin regardless of its active flag.
	GetByID(ctx context.Context, id int64) (*Pin, error)

	// GetActive returns an active pin, or ErrNotFound if the pin is
	// unknown or retired.
	GetActive(ctx context.Context, id int64) (*Pin, error)

	// DiscoverNearby returns active, unexpired pins within radiusMeters
	// of the anchor, nearest first, at most limit entries.
	DiscoverNearby(ctx context.Context, lat, lon float64, radiusMeters, limit int, now time.Time) ([]Discovered, error)

	// HasRecentNearby reports whether the device created a pin within
	// radiusMeters of the anchor since the given instant. Used by the
	// duplicate-pin guard.
	HasRecentNearby(ctx context.Context, deviceID int64, lat, lon float64, radiusMeters float64, since time.Time) (bool, error)

	// UpdateEngagement atomically loads an active pin, applies fn to it,
	// and persists the mutated counters, suppression flag, and expiry.
	// If fn returns an error nothing is persisted and the error is
	// returned unchanged. Inactive or unknown pins yield ErrNotFound.
	UpdateEngagement(ctx context.Context, id int64, fn func(*Pin) error) (*Pin, error)

	// Delete removes a pin permanently.
	Delete(ctx context.Context, id int64) error

	// CleanupExpired retires every active pin whose timer has lapsed.
	// With hard set it deletes the rows instead. Returns the affected
	// pin IDs so callers can cascade dependent records.
	CleanupExpired(ctx context.Context, now time.Time, hard bool) ([]int64, error)

	// ListByDevice returns a device's pins, newest first.
	ListByDevice(ctx context.Context, deviceID int64, limit int) ([]*Pin, error)

	// SearchByDevice returns a device's pins whose content matches the
	// query, newest first.
	SearchByDevice(ctx context.Context, deviceID int64, query string, limit int) ([]*Pin, error)

	// Counts returns aggregate totals across all pins. Community counts
	// only active community pins.
	Counts(ctx context.Context) (Counts, error)

	// CountByDevice returns the number of pins owned by the device.
	CountByDevice(ctx context.Context, deviceID int64) (int64, error)

	// CountCommunityByDevice returns the number of community pins owned
	// by the device, optionally restricted to active ones.
	CountCommunityByDevice(ctx context.Context, deviceID int64, activeOnly bool) (int64, error)
}

// InMemoryRepository is a mutex-guarded in-memory implementation used in
// tests and local development.
type InMemoryRepository struct {
	mu     sync.RWMutex
	pins   map[int64]*Pin
	nextID int64
}

// NewInMemoryRepository creates an empty in-memory pin repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{pins: make(map[int64]*Pin)}
}

func copyPin(p *Pin) *Pin {
	cp := *p
	if p.DeviceID != nil {
		id := *p.DeviceID
		cp.DeviceID = &id
	}
	return &cp
}

// Create stores a new pin and assigns its ID.
func (r *InMemoryRepository) Create(ctx context.Context, p *Pin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	p.ID = r.nextID
	r.pins[p.ID] = copyPin(p)
	return nil
}

// GetByID returns a pin regardless of its active flag.
func (r *InMemoryRepository) GetByID(ctx context.Context, id int64) (*Pin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPin(p), nil
}

// GetActive returns an active pin, or ErrNotFound.
func (r *InMemoryRepository) GetActive(ctx context.Context, id int64) (*Pin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pins[id]
	if !ok || !p.IsActive {
		return nil, ErrNotFound
	}
	return copyPin(p), nil
}

// DiscoverNearby returns visible pins within radiusMeters, nearest first.
func (r *InMemoryRepository) DiscoverNearby(ctx context.Context, lat, lon float64, radiusMeters, limit int, now time.Time) ([]Discovered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > MaxDiscoveryResults {
		limit = MaxDiscoveryResults
	}

	var found []Discovered
	for _, p := range r.pins {
		if !p.Visible(now) {
			continue
		}
		d := geo.Distance(lat, lon, p.Latitude, p.Longitude)
		if d > float64(radiusMeters) {
			continue
		}
		found = append(found, Discovered{Pin: *copyPin(p), DistanceMeters: d})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].DistanceMeters != found[j].DistanceMeters {
			return found[i].DistanceMeters < found[j].DistanceMeters
		}
		return found[i].ID < found[j].ID
	})
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// HasRecentNearby reports whether the device pinned nearby since the cutoff.
func (r *InMemoryRepository) HasRecentNearby(ctx context.Context, deviceID int64, lat, lon float64, radiusMeters float64, since time.Time) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.pins {
		if !p.OwnedBy(deviceID) || !p.IsActive {
			continue
		}
		if p.CreatedAt.Before(since) {
			continue
		}
		if geo.Distance(lat, lon, p.Latitude, p.Longitude) <= radiusMeters {
			return true, nil
		}
	}
	return false, nil
}

// UpdateEngagement applies fn to an active pin under the repository lock.
func (r *InMemoryRepository) UpdateEngagement(ctx context.Context, id int64, fn func(*Pin) error) (*Pin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.pins[id]
	if !ok || !stored.IsActive {
		return nil, ErrNotFound
	}
	// Mutate a copy so a failing fn leaves the stored pin untouched.
	cp := copyPin(stored)
	if err := fn(cp); err != nil {
		return nil, err
	}
	r.pins[id] = cp
	return copyPin(cp), nil
}

// Delete removes a pin permanently.
func (r *InMemoryRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pins[id]; !ok {
		return ErrNotFound
	}
	delete(r.pins, id)
	return nil
}

// CleanupExpired retires or deletes every expired active pin.
func (r *InMemoryRepository) CleanupExpired(ctx context.Context, now time.Time, hard bool) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []int64
	for id, p := range r.pins {
		if !p.IsActive || !p.Expired(now) {
			continue
		}
		if hard {
			delete(r.pins, id)
		} else {
			p.IsActive = false
		}
		affected = append(affected, id)
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	return affected, nil
}

// ListByDevice returns a device's pins, newest first.
func (r *InMemoryRepository) ListByDevice(ctx context.Context, deviceID int64, limit int) ([]*Pin, error) {
	return r.listByDevice(deviceID, limit, func(*Pin) bool { return true })
}

// SearchByDevice returns a device's pins matching the query, newest first.
func (r *InMemoryRepository) SearchByDevice(ctx context.Context, deviceID int64, query string, limit int) ([]*Pin, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return r.listByDevice(deviceID, limit, func(p *Pin) bool {
		return q == "" || strings.Contains(strings.ToLower(p.Content), q)
	})
}

func (r *InMemoryRepository) listByDevice(deviceID int64, limit int, match func(*Pin) bool) ([]*Pin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Pin
	for _, p := range r.pins {
		if p.OwnedBy(deviceID) && match(p) {
			out = append(out, copyPin(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Counts returns aggregate totals across all pins.
func (r *InMemoryRepository) Counts(ctx context.Context) (Counts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c Counts
	for _, p := range r.pins {
		c.Total++
		if p.IsActive {
			c.Active++
		}
		if p.IsCommunity && p.IsActive {
			c.Community++
		}
	}
	return c, nil
}

// CountByDevice returns the number of pins owned by the device.
func (r *InMemoryRepository) CountByDevice(ctx context.Context, deviceID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, p := range r.pins {
		if p.OwnedBy(deviceID) {
			n++
		}
	}
	return n, nil
}

// CountCommunityByDevice returns the device's community pin count.
func (r *InMemoryRepository) CountCommunityByDevice(ctx context.Context, deviceID int64, activeOnly bool) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, p := range r.pins {
		if !p.OwnedBy(deviceID) || !p.IsCommunity {
			continue
		}
		if activeOnly && !p.IsActive {
			continue
		}
		n++
	}
	return n, nil
}
