// Package pin provides the pin lifecycle model and repository: proximity
// discovery, engagement counters, suppression, and time-based expiry.
package pin

import (
	"errors"
	"time"
)

// Common errors for pin operations.
var (
	// ErrNotFound is returned for unknown AND inactive pins. Callers cannot
	// distinguish the two cases; retired pins look nonexistent.
	ErrNotFound = errors.New("pin not found")

	// ErrNotOwner is returned when a device tries to delete a pin it
	// does not own.
	ErrNotOwner = errors.New("pin is owned by another device")
)

// Fixed policy constants of the lifecycle engine. Deliberately not
// configurable (see DESIGN.md).
const (
	// LikeExtension is pushed onto the expiry for every new like.
	LikeExtension = 7 * 24 * time.Hour

	// MaxLifespan caps expiry at created_at + one year. Likes past the cap
	// still count but no longer move the expiry.
	MaxLifespan = 365 * 24 * time.Hour

	// DuplicateRadiusMeters and DuplicateWindow scope the duplicate-pin
	// guard: a device may not re-pin within 100 m of one of its own pins
	// created in the trailing hour.
	DuplicateRadiusMeters = 100.0
	DuplicateWindow       = time.Hour

	// MaxDiscoveryResults caps a single discovery response.
	MaxDiscoveryResults = 50

	// MinRadiusMeters and MaxRadiusMeters bound a discovery radius.
	MinRadiusMeters = 10
	MaxRadiusMeters = 2000

	// MinDurationHours and MaxDurationHours bound the requested lifespan
	// of a new pin. DefaultDurationHours applies when the request does
	// not name one.
	MinDurationHours     = 1
	MaxDurationHours     = 730
	DefaultDurationHours = 72
)

// Pin is a location-anchored, time-limited message.
type Pin struct {
	ID       int64  `json:"id"`
	DeviceID *int64 `json:"-"` // owning device; nil for anonymous pins
	Content  string `json:"content"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
	Reports  int `json:"reports"`
	PassBys  int `json:"passes_by"`

	IsActive     bool `json:"is_active"`
	IsSuppressed bool `json:"is_suppressed"`
	IsCommunity  bool `json:"is_community"`
}

// Discovered is a pin annotated for a discovery response.
type Discovered struct {
	Pin
	DistanceMeters float64 `json:"distance_meters"`
	IsOwnPin       bool    `json:"is_own_pin"`
}

// RecomputeSuppression applies the suppression formula
// reports > likes * 2 and returns true if the flag flipped.
// Must be called after every counter change that touches likes or reports;
// the stored flag is only a cache of this pure function.
func (p *Pin) RecomputeSuppression() bool {
	should := p.Reports > p.Likes*2
	changed := p.IsSuppressed != should
	p.IsSuppressed = should
	return changed
}

// ExtendForLike pushes the expiry forward by LikeExtension, clamped to
// created_at + MaxLifespan. Returns true if the expiry actually moved,
// false once the one-year ceiling is reached.
func (p *Pin) ExtendForLike() bool {
	maxExpiry := p.CreatedAt.Add(MaxLifespan)
	newExpiry := p.ExpiresAt.Add(LikeExtension)
	if newExpiry.After(maxExpiry) {
		newExpiry = maxExpiry
	}
	if !newExpiry.After(p.ExpiresAt) {
		return false
	}
	p.ExpiresAt = newExpiry
	return true
}

// Expired reports whether the pin's timer has lapsed at the given instant,
// independently of the stored is_active flag.
func (p *Pin) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// Visible reports whether the pin may appear in discovery results.
// Suppression is a rendering hint, not a visibility gate.
func (p *Pin) Visible(now time.Time) bool {
	return p.IsActive && p.ExpiresAt.After(now)
}

// OwnedBy reports whether the pin belongs to the given device id.
// Anonymous pins belong to nobody.
func (p *Pin) OwnedBy(deviceID int64) bool {
	return p.DeviceID != nil && *p.DeviceID == deviceID
}

// ClampDuration clamps a requested lifespan in hours to the allowed range
// and returns it as a duration.
func ClampDuration(hours int) time.Duration {
	if hours < MinDurationHours {
		hours = MinDurationHours
	}
	if hours > MaxDurationHours {
		hours = MaxDurationHours
	}
	return time.Duration(hours) * time.Hour
}

// ClampRadius clamps a requested discovery radius to the allowed bounds.
func ClampRadius(radius int) int {
	if radius < MinRadiusMeters {
		return MinRadiusMeters
	}
	if radius > MaxRadiusMeters {
		return MaxRadiusMeters
	}
	return radius
}
