package engagement

import (
	"context"
	"sync"
	"time"
)

// Ledger defines storage operations for interactions.
type Ledger interface {
	// InsertOrGet records an interaction unless one already exists for
	// the device and pin. It returns the winning row and whether this
	// call inserted it. Concurrent racers all converge on the same row.
	InsertOrGet(ctx context.Context, deviceID, pinID int64, kind string, now time.Time) (*Interaction, bool, error)

	// Get returns the interaction a device holds on a pin, if any.
	Get(ctx context.Context, deviceID, pinID int64) (*Interaction, error)

	// SetKind flips an interaction from one kind to another. The from kind
	// is part of the match: when the row is gone or no longer holds it,
	// ErrNotFound is returned and nothing changes, so concurrent flips of
	// the same row land exactly once.
	SetKind(ctx context.Context, deviceID, pinID int64, from, to string) error

	// Delete removes a device's interaction on a pin.
	Delete(ctx context.Context, deviceID, pinID int64) error

	// DeleteByPin removes every interaction on a pin. Used when a pin is
	// removed so its engagement history goes with it.
	DeleteByPin(ctx context.Context, pinID int64) error

	// TallyByDevice counts a device's interactions grouped by kind.
	TallyByDevice(ctx context.Context, deviceID int64) (Tally, error)

	// Count returns the total number of recorded interactions.
	Count(ctx context.Context) (int64, error)
}

type ledgerKey struct {
	deviceID int64
	pinID    int64
}

// InMemoryLedger is a mutex-guarded in-memory implementation used in tests
// and local development.
type InMemoryLedger struct {
	mu     sync.RWMutex
	rows   map[ledgerKey]*Interaction
	nextID int64
}

// NewInMemoryLedger creates an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{rows: make(map[ledgerKey]*Interaction)}
}

// InsertOrGet records an interaction unless one already exists.
func (l *InMemoryLedger) InsertOrGet(ctx context.Context, deviceID, pinID int64, kind string, now time.Time) (*Interaction, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{deviceID: deviceID, pinID: pinID}
	if existing, ok := l.rows[key]; ok {
		cp := *existing
		return &cp, false, nil
	}

	l.nextID++
	row := &Interaction{
		ID:        l.nextID,
		DeviceID:  deviceID,
		PinID:     pinID,
		Kind:      kind,
		CreatedAt: now,
	}
	l.rows[key] = row
	cp := *row
	return &cp, true, nil
}

// Get returns the interaction a device holds on a pin.
func (l *InMemoryLedger) Get(ctx context.Context, deviceID, pinID int64) (*Interaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	row, ok := l.rows[ledgerKey{deviceID: deviceID, pinID: pinID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// SetKind flips an interaction from one kind to another.
func (l *InMemoryLedger) SetKind(ctx context.Context, deviceID, pinID int64, from, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[ledgerKey{deviceID: deviceID, pinID: pinID}]
	if !ok || row.Kind != from {
		return ErrNotFound
	}
	row.Kind = to
	return nil
}

// Delete removes a device's interaction on a pin.
func (l *InMemoryLedger) Delete(ctx context.Context, deviceID, pinID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{deviceID: deviceID, pinID: pinID}
	if _, ok := l.rows[key]; !ok {
		return ErrNotFound
	}
	delete(l.rows, key)
	return nil
}

// DeleteByPin removes every interaction on a pin.
func (l *InMemoryLedger) DeleteByPin(ctx context.Context, pinID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.rows {
		if key.pinID == pinID {
			delete(l.rows, key)
		}
	}
	return nil
}

// Count returns the total number of recorded interactions.
func (l *InMemoryLedger) Count(ctx context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.rows)), nil
}

// TallyByDevice counts a device's interactions grouped by kind.
func (l *InMemoryLedger) TallyByDevice(ctx context.Context, deviceID int64) (Tally, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var t Tally
	for _, row := range l.rows {
		if row.DeviceID != deviceID {
			continue
		}
		switch row.Kind {
		case KindLike:
			t.Likes++
		case KindDislike:
			t.Dislikes++
		case KindReport:
			t.Reports++
		}
	}
	return t, nil
}
