// Package device provides models and repository for device identities,
// the anchor for pin ownership, interaction uniqueness, and rate limiting.
package device

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for device operations.
var (
	ErrNotFound      = errors.New("device not found")
	ErrKindDowngrade = errors.New("auth kind cannot be downgraded")
	ErrQuotaExceeded = errors.New("daily pin quota exceeded")
)

// DailyPinLimit is the maximum number of pins a device may create per
// calendar day. Fixed policy constant, not configuration.
const DailyPinLimit = 20

// AuthKind is the closed set of authentication kinds a device can carry.
type AuthKind string

const (
	// KindDevice is an unauthenticated device identifier.
	KindDevice AuthKind = "device"

	// KindLinkedAccount is a device whose identifier is backed by an
	// authenticated account. Devices upgrade to this kind and never leave it.
	KindLinkedAccount AuthKind = "linked-account"
)

// Valid reports whether the kind is a member of the closed enumeration.
func (k AuthKind) Valid() bool {
	return k == KindDevice || k == KindLinkedAccount
}

// ParseAuthKind maps untrusted header input to an AuthKind.
// Unknown values collapse to KindDevice rather than failing the request.
func ParseAuthKind(s string) AuthKind {
	if AuthKind(s) == KindLinkedAccount {
		return KindLinkedAccount
	}
	return KindDevice
}

// Device is the identity record behind every request that carries a device
// identifier. Created lazily on first sight, mutated on every request,
// never deleted.
type Device struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_id"`
	Kind       AuthKind  `json:"auth_kind"`
	AccountID  *int64    `json:"account_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`

	// Daily pin-creation quota state. Reset lazily on the first request
	// seen on a new calendar day.
	PinsCreatedToday int       `json:"pins_created_today"`
	QuotaResetAt     time.Time `json:"quota_reset_at"`
}

// UpgradeKind applies the one-directional device -> linked-account
// transition. Requesting the current kind is a no-op. Any other transition
// is rejected rather than silently ignored.
func (d *Device) UpgradeKind(to AuthKind) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("unknown auth kind %q", to)
	}
	if to == d.Kind {
		return false, nil
	}
	if d.Kind == KindDevice && to == KindLinkedAccount {
		d.Kind = KindLinkedAccount
		return true, nil
	}
	return false, ErrKindDowngrade
}

// ResetQuotaIfNewDay zeroes the daily counter when now falls on a later
// UTC calendar day than the last reset. Returns true if a reset happened.
func (d *Device) ResetQuotaIfNewDay(now time.Time) bool {
	last := d.QuotaResetAt.UTC()
	ny, nm, nd := now.UTC().Date()
	ly, lm, ld := last.Date()
	if ny == ly && nm == lm && nd == ld {
		return false
	}
	if now.UTC().Before(last) {
		// Clock went backwards; keep the existing window.
		return false
	}
	d.PinsCreatedToday = 0
	d.QuotaResetAt = now.UTC()
	return true
}

// QuotaRemaining returns how many pins the device may still create today,
// after applying the lazy day-boundary reset.
func (d *Device) QuotaRemaining(now time.Time) int {
	d.ResetQuotaIfNewDay(now)
	remaining := DailyPinLimit - d.PinsCreatedToday
	if remaining < 0 {
		return 0
	}
	return remaining
}
