// Package cooldown throttles repeat stats reads of the same pin by the
// same device. Unlike the request-wide rate limiter this keys on the
// (device, pin) pair and answers with a retry hint.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Period is how long a device must wait between stats reads of one pin.
const Period = 30 * time.Second

// Store tracks cooldown windows. Allow reports whether the device may read
// the pin's stats now; when denied it returns how long to wait.
type Store interface {
	Allow(ctx context.Context, deviceID, pinID int64) (bool, time.Duration, error)
}

type cooldownKey struct {
	deviceID int64
	pinID    int64
}

// InMemoryStore is a mutex-guarded cooldown store for single-instance
// deployments and tests. The clock is injected so windows can be tested
// without sleeping.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[cooldownKey]time.Time
	period  time.Duration
	now     func() time.Time
}

// NewInMemoryStore creates a store with the standard period and wall clock.
func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithClock(Period, time.Now)
}

// NewInMemoryStoreWithClock creates a store with an explicit period and
// clock.
func NewInMemoryStoreWithClock(period time.Duration, now func() time.Time) *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[cooldownKey]time.Time),
		period:  period,
		now:     now,
	}
}

// Allow opens a cooldown window on success and reports the remaining wait
// on denial.
func (s *InMemoryStore) Allow(ctx context.Context, deviceID, pinID int64) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := cooldownKey{deviceID: deviceID, pinID: pinID}
	if last, ok := s.entries[key]; ok {
		if wait := s.period - now.Sub(last); wait > 0 {
			return false, wait, nil
		}
	}
	s.entries[key] = now
	return true, 0, nil
}

// Cleanup drops expired windows. Call it periodically so the map does not
// grow without bound.
func (s *InMemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, last := range s.entries {
		if now.Sub(last) >= s.period {
			delete(s.entries, key)
		}
	}
}

// StartCleanup runs Cleanup on the given interval until ctx is done.
func (s *InMemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}
