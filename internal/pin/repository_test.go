package pin

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPin(deviceID int64, lat, lon float64) *Pin {
	return &Pin{
		DeviceID:  &deviceID,
		Content:   "left my umbrella on the bench here, enjoy",
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(24 * time.Hour),
		IsActive:  true,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.6761, 12.5683)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected an assigned ID")
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Content != p.Content || got.Latitude != p.Latitude {
		t.Errorf("stored pin differs: %+v", got)
	}

	// Mutating the returned copy must not leak into storage.
	got.Likes = 99
	again, _ := repo.GetByID(ctx, p.ID)
	if again.Likes != 0 {
		t.Error("repository returned a shared reference")
	}
}

func TestGetActive_HidesRetiredPins(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.0, 12.0)
	p.IsActive = false
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.GetActive(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetActive on retired pin: got %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByID(ctx, p.ID); err != nil {
		t.Errorf("GetByID on retired pin: %v", err)
	}
	if _, err := repo.GetActive(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetActive on unknown pin: got %v, want ErrNotFound", err)
	}
}

func TestDiscoverNearby(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	// Anchor in central Copenhagen; near is ~100 m away, far is ~5 km.
	anchorLat, anchorLon := 55.6761, 12.5683
	near := newTestPin(1, 55.6770, 12.5683)
	far := newTestPin(1, 55.6761, 12.6483)
	for _, p := range []*Pin{near, far} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	found, err := repo.DiscoverNearby(ctx, anchorLat, anchorLon, 500, MaxDiscoveryResults, testNow)
	if err != nil {
		t.Fatalf("DiscoverNearby: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d pins, want 1", len(found))
	}
	if found[0].ID != near.ID {
		t.Errorf("got pin %d, want %d", found[0].ID, near.ID)
	}
	if found[0].DistanceMeters < 50 || found[0].DistanceMeters > 150 {
		t.Errorf("DistanceMeters = %f, want roughly 100", found[0].DistanceMeters)
	}
}

func TestDiscoverNearby_SortedAndLimited(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	// Pins at increasing distance from the anchor, inserted out of order.
	anchorLat, anchorLon := 55.0, 12.0
	offsets := []float64{0.004, 0.001, 0.003, 0.002}
	for _, off := range offsets {
		if err := repo.Create(ctx, newTestPin(1, anchorLat+off, anchorLon)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	found, err := repo.DiscoverNearby(ctx, anchorLat, anchorLon, 2000, 3, testNow)
	if err != nil {
		t.Fatalf("DiscoverNearby: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("got %d pins, want limit 3", len(found))
	}
	for i := 1; i < len(found); i++ {
		if found[i].DistanceMeters < found[i-1].DistanceMeters {
			t.Errorf("results not sorted by distance: %f before %f",
				found[i-1].DistanceMeters, found[i].DistanceMeters)
		}
	}
}

func TestDiscoverNearby_SkipsExpiredAndRetired(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	expired := newTestPin(1, 55.0, 12.0)
	expired.ExpiresAt = testNow.Add(-time.Minute)
	retired := newTestPin(1, 55.0, 12.0)
	retired.IsActive = false
	suppressed := newTestPin(1, 55.0, 12.0)
	suppressed.IsSuppressed = true
	for _, p := range []*Pin{expired, retired, suppressed} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	found, err := repo.DiscoverNearby(ctx, 55.0, 12.0, 100, MaxDiscoveryResults, testNow)
	if err != nil {
		t.Fatalf("DiscoverNearby: %v", err)
	}
	if len(found) != 1 || found[0].ID != suppressed.ID {
		t.Fatalf("expected only the suppressed pin to remain discoverable, got %d results", len(found))
	}
}

func TestHasRecentNearby(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.0, 12.0)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	since := testNow.Add(-DuplicateWindow)

	// Same spot, same device, inside the window.
	got, err := repo.HasRecentNearby(ctx, 1, 55.0, 12.0, DuplicateRadiusMeters, since)
	if err != nil {
		t.Fatalf("HasRecentNearby: %v", err)
	}
	if !got {
		t.Error("expected a recent nearby pin")
	}

	// Different device at the same spot.
	got, _ = repo.HasRecentNearby(ctx, 2, 55.0, 12.0, DuplicateRadiusMeters, since)
	if got {
		t.Error("other devices' pins must not trip the guard")
	}

	// Same device outside the radius (~1.1 km north).
	got, _ = repo.HasRecentNearby(ctx, 1, 55.01, 12.0, DuplicateRadiusMeters, since)
	if got {
		t.Error("pin outside the radius must not trip the guard")
	}

	// Same spot but the pin predates the window.
	got, _ = repo.HasRecentNearby(ctx, 1, 55.0, 12.0, DuplicateRadiusMeters, testNow.Add(time.Minute))
	if got {
		t.Error("pin older than the window must not trip the guard")
	}
}

func TestUpdateEngagement(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.0, 12.0)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := repo.UpdateEngagement(ctx, p.ID, func(p *Pin) error {
		p.Likes++
		p.ExtendForLike()
		p.RecomputeSuppression()
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateEngagement: %v", err)
	}
	if updated.Likes != 1 {
		t.Errorf("Likes = %d, want 1", updated.Likes)
	}
	want := testNow.Add(24*time.Hour + LikeExtension)
	if !updated.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", updated.ExpiresAt, want)
	}
}

func TestUpdateEngagement_FailedFnLeavesPinUntouched(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.0, 12.0)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantErr := errors.New("rejected")
	_, err := repo.UpdateEngagement(ctx, p.ID, func(p *Pin) error {
		p.Likes = 42
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("UpdateEngagement: got %v, want the fn error", err)
	}

	got, _ := repo.GetByID(ctx, p.ID)
	if got.Likes != 0 {
		t.Errorf("Likes = %d, want 0 after failed update", got.Likes)
	}
}

func TestUpdateEngagement_InactivePin(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.0, 12.0)
	p.IsActive = false
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := repo.UpdateEngagement(ctx, p.ID, func(p *Pin) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := newTestPin(1, 55.0, 12.0)
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after delete", err)
	}
	if err := repo.Delete(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestCleanupExpired_Soft(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	fresh := newTestPin(1, 55.0, 12.0)
	stale := newTestPin(1, 55.0, 12.0)
	stale.ExpiresAt = testNow.Add(-time.Hour)
	for _, p := range []*Pin{fresh, stale} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	affected, err := repo.CleanupExpired(ctx, testNow, false)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if len(affected) != 1 || affected[0] != stale.ID {
		t.Fatalf("affected = %v, want [%d]", affected, stale.ID)
	}

	// Soft cleanup retires the pin but keeps the row.
	got, err := repo.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID after soft cleanup: %v", err)
	}
	if got.IsActive {
		t.Error("expected pin to be retired")
	}

	// Running it again is a no-op.
	affected, _ = repo.CleanupExpired(ctx, testNow, false)
	if len(affected) != 0 {
		t.Errorf("second cleanup affected %v, want none", affected)
	}
}

func TestCleanupExpired_Hard(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	stale := newTestPin(1, 55.0, 12.0)
	stale.ExpiresAt = testNow.Add(-time.Hour)
	if err := repo.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	affected, err := repo.CleanupExpired(ctx, testNow, true)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if len(affected) != 1 {
		t.Fatalf("affected = %v, want one id", affected)
	}
	if _, err := repo.GetByID(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after hard cleanup", err)
	}
}

func TestListAndSearchByDevice(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	first := newTestPin(1, 55.0, 12.0)
	first.Content = "free coffee at the corner stand"
	second := newTestPin(1, 55.0, 12.0)
	second.Content = "watch out for ice on the stairs"
	second.CreatedAt = testNow.Add(time.Minute)
	other := newTestPin(2, 55.0, 12.0)
	for _, p := range []*Pin{first, second, other} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := repo.ListByDevice(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d pins, want 2", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("expected newest pin first, got %d", list[0].ID)
	}

	matches, err := repo.SearchByDevice(ctx, 1, "coffee", 10)
	if err != nil {
		t.Fatalf("SearchByDevice: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != first.ID {
		t.Fatalf("search: got %d matches, want the coffee pin", len(matches))
	}
}

func TestCounts(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	active := newTestPin(1, 55.0, 12.0)
	retired := newTestPin(1, 55.0, 12.0)
	retired.IsActive = false
	community := newTestPin(1, 55.0, 12.0)
	community.IsCommunity = true
	for _, p := range []*Pin{active, retired, community} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	c, err := repo.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if c.Total != 3 || c.Active != 2 || c.Community != 1 {
		t.Errorf("Counts = %+v, want total 3 active 2 community 1", c)
	}

	n, err := repo.CountByDevice(ctx, 1)
	if err != nil {
		t.Fatalf("CountByDevice: %v", err)
	}
	if n != 3 {
		t.Errorf("CountByDevice = %d, want 3", n)
	}
}
