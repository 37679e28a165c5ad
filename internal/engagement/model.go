// Package engagement records per-device interactions with pins: votes,
// reports, and pass-bys. The ledger enforces at most one interaction row
// per device and pin.
package engagement

import (
	"errors"
	"time"
)

// Interaction kinds.
const (
	KindLike    = "like"
	KindDislike = "dislike"
	KindReport  = "report"
)

// ErrNotFound is returned when no interaction exists for a device and pin.
var ErrNotFound = errors.New("interaction not found")

// ValidKind reports whether k names a known interaction kind.
func ValidKind(k string) bool {
	switch k {
	case KindLike, KindDislike, KindReport:
		return true
	}
	return false
}

// Interaction is one device's recorded stance on one pin.
type Interaction struct {
	ID        int64
	DeviceID  int64
	PinID     int64
	Kind      string
	CreatedAt time.Time
}

// Tally aggregates a device's interactions for user stats.
type Tally struct {
	Likes    int64
	Dislikes int64
	Reports  int64
}
