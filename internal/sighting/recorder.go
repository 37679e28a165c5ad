// Package sighting keeps the per-device record of pins a device has walked
// past. One row per device and pin; repeat encounters only bump the pin's
// pass-by counter, not this table.
package sighting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sighting marks that a device encountered a pin at least once.
type Sighting struct {
	ID       int64
	DeviceID int64
	PinID    int64
	SeenAt   time.Time
}

// Recorder defines storage operations for sightings.
type Recorder interface {
	// Record stores a first encounter. Repeat encounters are silently
	// absorbed; Record never fails because the row already exists.
	Record(ctx context.Context, deviceID, pinID int64, now time.Time) error

	// ListPinIDsByDevice returns the pins a device has encountered,
	// most recent first.
	ListPinIDsByDevice(ctx context.Context, deviceID int64, limit int) ([]int64, error)

	// CountByDevice returns how many distinct pins a device has
	// encountered.
	CountByDevice(ctx context.Context, deviceID int64) (int64, error)

	// DeleteByPin removes every sighting of a pin.
	DeleteByPin(ctx context.Context, pinID int64) error
}

type sightingKey struct {
	deviceID int64
	pinID    int64
}

// InMemoryRecorder is a mutex-guarded in-memory implementation used in
// tests and local development.
type InMemoryRecorder struct {
	mu     sync.RWMutex
	rows   map[sightingKey]*Sighting
	nextID int64
}

// NewInMemoryRecorder creates an empty in-memory recorder.
func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{rows: make(map[sightingKey]*Sighting)}
}

// Record stores a first encounter; repeats are no-ops.
func (r *InMemoryRecorder) Record(ctx context.Context, deviceID, pinID int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sightingKey{deviceID: deviceID, pinID: pinID}
	if _, ok := r.rows[key]; ok {
		return nil
	}
	r.nextID++
	r.rows[key] = &Sighting{ID: r.nextID, DeviceID: deviceID, PinID: pinID, SeenAt: now}
	return nil
}

// ListPinIDsByDevice returns encountered pins, most recent first.
func (r *InMemoryRecorder) ListPinIDsByDevice(ctx context.Context, deviceID int64, limit int) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rows []*Sighting
	for _, s := range r.rows {
		if s.DeviceID == deviceID {
			rows = append(rows, s)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].SeenAt.Equal(rows[j].SeenAt) {
			return rows[i].SeenAt.After(rows[j].SeenAt)
		}
		return rows[i].ID > rows[j].ID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ids := make([]int64, len(rows))
	for i, s := range rows {
		ids[i] = s.PinID
	}
	return ids, nil
}

// CountByDevice returns how many distinct pins a device has encountered.
func (r *InMemoryRecorder) CountByDevice(ctx context.Context, deviceID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, s := range r.rows {
		if s.DeviceID == deviceID {
			n++
		}
	}
	return n, nil
}

// DeleteByPin removes every sighting of a pin.
func (r *InMemoryRecorder) DeleteByPin(ctx context.Context, pinID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.rows {
		if key.pinID == pinID {
			delete(r.rows, key)
		}
	}
	return nil
}
