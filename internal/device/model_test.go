package device

import (
	"errors"
	"testing"
	"time"
)

func TestParseAuthKind(t *testing.T) {
	tests := []struct {
		input string
		want  AuthKind
	}{
		{"device", KindDevice},
		{"linked-account", KindLinkedAccount},
		{"", KindDevice},
		{"supabase", KindDevice},
		{"admin", KindDevice},
	}

	for _, tt := range tests {
		if got := ParseAuthKind(tt.input); got != tt.want {
			t.Errorf("ParseAuthKind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestUpgradeKind_OneDirectional(t *testing.T) {
	d := &Device{Kind: KindDevice}

	changed, err := d.UpgradeKind(KindLinkedAccount)
	if err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	if !changed {
		t.Error("expected upgrade to report a change")
	}
	if d.Kind != KindLinkedAccount {
		t.Errorf("expected kind linked-account, got %q", d.Kind)
	}

	// Same-kind transition is a no-op.
	changed, err = d.UpgradeKind(KindLinkedAccount)
	if err != nil || changed {
		t.Errorf("same-kind transition should be a no-op, got changed=%v err=%v", changed, err)
	}

	// Downgrade is rejected, not silently ignored.
	_, err = d.UpgradeKind(KindDevice)
	if !errors.Is(err, ErrKindDowngrade) {
		t.Errorf("expected ErrKindDowngrade, got %v", err)
	}
	if d.Kind != KindLinkedAccount {
		t.Errorf("failed downgrade must not mutate kind, got %q", d.Kind)
	}
}

func TestUpgradeKind_UnknownKind(t *testing.T) {
	d := &Device{Kind: KindDevice}
	if _, err := d.UpgradeKind(AuthKind("supabase")); err == nil {
		t.Error("expected error for unknown auth kind")
	}
}

func TestResetQuotaIfNewDay(t *testing.T) {
	day1 := time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)
	d := &Device{PinsCreatedToday: 17, QuotaResetAt: day1}

	// Same calendar day: no reset.
	if d.ResetQuotaIfNewDay(day1.Add(5 * time.Minute)) {
		t.Error("same-day request must not reset the counter")
	}
	if d.PinsCreatedToday != 17 {
		t.Errorf("counter changed on same day: %d", d.PinsCreatedToday)
	}

	// Ten minutes later it is a new calendar day.
	if !d.ResetQuotaIfNewDay(day1.Add(20 * time.Minute)) {
		t.Error("expected reset on day rollover")
	}
	if d.PinsCreatedToday != 0 {
		t.Errorf("expected counter reset to 0, got %d", d.PinsCreatedToday)
	}
}

func TestResetQuotaIfNewDay_ClockBackwards(t *testing.T) {
	d := &Device{
		PinsCreatedToday: 5,
		QuotaResetAt:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	if d.ResetQuotaIfNewDay(time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)) {
		t.Error("a clock running backwards must not reset the quota")
	}
}

func TestQuotaRemaining(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := &Device{PinsCreatedToday: DailyPinLimit - 1, QuotaResetAt: now}

	if got := d.QuotaRemaining(now); got != 1 {
		t.Errorf("expected 1 remaining, got %d", got)
	}

	d.PinsCreatedToday = DailyPinLimit
	if got := d.QuotaRemaining(now); got != 0 {
		t.Errorf("expected 0 remaining, got %d", got)
	}
}
