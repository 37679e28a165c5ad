package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/SanayKrishna/serendipity/internal/content"
	"github.com/SanayKrishna/serendipity/internal/cooldown"
	"github.com/SanayKrishna/serendipity/internal/device"
	"github.com/SanayKrishna/serendipity/internal/engagement"
	"github.com/SanayKrishna/serendipity/internal/middleware"
	"github.com/SanayKrishna/serendipity/internal/notify"
	"github.com/SanayKrishna/serendipity/internal/pin"
	"github.com/SanayKrishna/serendipity/internal/sighting"
	"github.com/SanayKrishna/serendipity/internal/stats"
)

// testEnv wires handlers against in-memory storage with a frozen clock.
type testEnv struct {
	pins      *pin.InMemoryRepository
	devices   *device.InMemoryRepository
	ledger    *engagement.InMemoryLedger
	sightings *sighting.InMemoryRecorder
	cooldowns *cooldown.InMemoryStore
	handlers  *PinHandlers
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	env := &testEnv{
		pins:      pin.NewInMemoryRepository(),
		devices:   device.NewInMemoryRepository(),
		ledger:    engagement.NewInMemoryLedger(),
		sightings: sighting.NewInMemoryRecorder(),
		now:       now,
	}
	env.cooldowns = cooldown.NewInMemoryStoreWithClock(cooldown.Period, func() time.Time { return env.now })

	env.handlers = NewPinHandlers(PinHandlersConfig{
		Pins:                env.pins,
		Devices:             env.devices,
		Ledger:              env.ledger,
		Sightings:           env.sightings,
		Cooldowns:           env.cooldowns,
		Filter:              content.NewDefaultFilter(),
		Notifier:            notify.Discard{},
		Activity:            stats.NewActivityStats(),
		Metrics:             middleware.NewMetrics(),
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:                 func() time.Time { return env.now },
		DefaultRadiusMeters: 50,
	})
	return env
}

// registerDevice creates a device row and returns it for context injection.
func (env *testEnv) registerDevice(t *testing.T, externalID string) *device.Device {
	t.Helper()
	d, err := env.devices.GetOrCreate(context.Background(), externalID, device.KindDevice, env.now)
	if err != nil {
		t.Fatalf("failed to register device: %v", err)
	}
	return d
}

// asDevice attaches a resolved device to the request context.
func asDevice(req *http.Request, d *device.Device) *http.Request {
	return req.WithContext(middleware.WithDevice(req.Context(), d))
}

// seedPin creates an active pin anchored near Copenhagen city hall.
func (env *testEnv) seedPin(t *testing.T, deviceID *int64, content string) *pin.Pin {
	t.Helper()
	p := &pin.Pin{
		DeviceID:  deviceID,
		Content:   content,
		Latitude:  55.6761,
		Longitude: 12.5683,
		CreatedAt: env.now,
		ExpiresAt: env.now.Add(72 * time.Hour),
		IsActive:  true,
	}
	if err := env.pins.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to seed pin: %v", err)
	}
	return p
}

func pathRequest(method, path string, body io.Reader, pinID int64) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.SetPathValue("id", strconv.FormatInt(pinID, 10))
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestCreatePin_Success(t *testing.T) {
	env := newTestEnv(t)
	d := env.registerDevice(t, "device-abc")

	body, _ := json.Marshal(CreatePinRequest{
		Content:  "Beautiful sunset from this bench",
		Latitude: 55.6761, Longitude: 12.5683,
	})
	req := asDevice(httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body)), d)
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp PinResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID == 0 {
		t.Error("expected assigned pin id")
	}
	if resp.Content != "Beautiful sunset from this bench" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if got, want := resp.ExpiresAt, env.now.Add(72*time.Hour); !got.Equal(want) {
		t.Errorf("expected default 72h expiry %v, got %v", want, got)
	}
	if !resp.IsActive {
		t.Error("expected new pin to be active")
	}
}

func TestCreatePin_AnonymousAllowed(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(CreatePinRequest{
		Content:  "No device header on this one",
		Latitude: 55.0, Longitude: 12.0,
	})
	req := httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body))
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePin_InvalidCoordinates(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(CreatePinRequest{Content: "hello world", Latitude: 91, Longitude: 0})
	req := httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body))
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Error.Code != ErrCodeValidation {
		t.Errorf("expected validation_error, got %s", resp.Error.Code)
	}
}

func TestCreatePin_BlockedContent(t *testing.T) {
	env := newTestEnv(t)

	body, _ := json.Marshal(CreatePinRequest{Content: "you are a Cunt", Latitude: 55, Longitude: 12})
	req := httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body))
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCreatePin_DuplicateGuard(t *testing.T) {
	env := newTestEnv(t)
	d := env.registerDevice(t, "device-abc")
	env.seedPin(t, &d.ID, "first message here")

	body, _ := json.Marshal(CreatePinRequest{
		Content:  "second message same spot",
		Latitude: 55.6761, Longitude: 12.5683,
	})
	req := asDevice(httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body)), d)
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Error.Code != ErrCodeDuplicatePin {
		t.Errorf("expected duplicate_pin, got %s", resp.Error.Code)
	}
}

func TestCreatePin_QuotaExceeded(t *testing.T) {
	env := newTestEnv(t)
	d := env.registerDevice(t, "device-abc")
	for i := 0; i < device.DailyPinLimit; i++ {
		if err := env.devices.ConsumeQuota(context.Background(), d.ID, env.now); err != nil {
			t.Fatalf("failed to burn quota: %v", err)
		}
	}

	body, _ := json.Marshal(CreatePinRequest{
		Content:  "one pin too many",
		Latitude: 40.0, Longitude: -74.0,
	})
	req := asDevice(httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body)), d)
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Error.Code != ErrCodeQuotaExceeded {
		t.Errorf("expected quota_exceeded, got %s", resp.Error.Code)
	}
}

func TestCreatePin_DuplicateGuardSkipsQuota(t *testing.T) {
	env := newTestEnv(t)
	d := env.registerDevice(t, "device-abc")
	env.seedPin(t, &d.ID, "first message here")

	body, _ := json.Marshal(CreatePinRequest{
		Content:  "same spot again",
		Latitude: 55.6761, Longitude: 12.5683,
	})
	req := asDevice(httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body)), d)
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}

	fresh, err := env.devices.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("failed to reload device: %v", err)
	}
	if fresh.PinsCreatedToday != 0 {
		t.Errorf("duplicate rejection consumed quota: %d", fresh.PinsCreatedToday)
	}
}

func TestCreatePin_QuotaReportedOverDuplicate(t *testing.T) {
	env := newTestEnv(t)
	d := env.registerDevice(t, "device-abc")
	env.seedPin(t, &d.ID, "first message here")
	for i := 0; i < device.DailyPinLimit; i++ {
		if err := env.devices.ConsumeQuota(context.Background(), d.ID, env.now); err != nil {
			t.Fatalf("failed to burn quota: %v", err)
		}
	}

	// Over quota AND re-pinning the same spot: the quota answer wins.
	body, _ := json.Marshal(CreatePinRequest{
		Content:  "same spot, no quota left",
		Latitude: 55.6761, Longitude: 12.5683,
	})
	req := asDevice(httptest.NewRequest(http.MethodPost, "/pin", bytes.NewReader(body)), d)
	w := httptest.NewRecorder()

	env.handlers.CreatePin(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Error.Code != ErrCodeQuotaExceeded {
		t.Errorf("expected quota_exceeded, got %s", resp.Error.Code)
	}
}

func TestDiscover_ReturnsNearbySorted(t *testing.T) {
	env := newTestEnv(t)
	near := env.seedPin(t, nil, "close by")
	far := &pin.Pin{
		Content:   "five kilometers away",
		Latitude:  55.7210,
		Longitude: 12.5683,
		CreatedAt: env.now,
		ExpiresAt: env.now.Add(72 * time.Hour),
		IsActive:  true,
	}
	if err := env.pins.Create(context.Background(), far); err != nil {
		t.Fatalf("failed to seed far pin: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/discover?lat=55.6762&lon=12.5683&radius=200", nil)
	w := httptest.NewRecorder()

	env.handlers.Discover(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp DiscoverResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 pin within 200m, got %d", resp.Count)
	}
	if resp.Pins[0].ID != near.ID {
		t.Errorf("expected pin %d, got %d", near.ID, resp.Pins[0].ID)
	}
	if resp.Pins[0].DistanceMeters <= 0 || resp.Pins[0].DistanceMeters > 200 {
		t.Errorf("unexpected distance %v", resp.Pins[0].DistanceMeters)
	}
	if !strings.Contains(resp.Message, "1 hidden message") {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestDiscover_EmptyArea(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/discover?lat=0&lon=0", nil)
	w := httptest.NewRecorder()

	env.handlers.Discover(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp DiscoverResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("expected 0 pins, got %d", resp.Count)
	}
	if resp.Message != "No messages discovered yet. Keep exploring!" {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestDiscover_MarksOwnPins(t *testing.T) {
	env := newTestEnv(t)
	d := env.registerDevice(t, "device-abc")
	env.seedPin(t, &d.ID, "mine")

	req := asDevice(httptest.NewRequest(http.MethodGet, "/discover?lat=55.6761&lon=12.5683", nil), d)
	w := httptest.NewRecorder()

	env.handlers.Discover(w, req)

	var resp DiscoverResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Pins) != 1 || !resp.Pins[0].IsOwnPin {
		t.Errorf("expected own pin flagged, got %+v", resp.Pins)
	}
}

func TestDiscover_InvalidLatitude(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/discover?lat=abc&lon=0", nil)
	w := httptest.NewRecorder()

	env.handlers.Discover(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestDiscover_RadiusOutOfBounds(t *testing.T) {
	env := newTestEnv(t)

	for _, radius := range []string{"9", "2001", "-1", "5000"} {
		req := httptest.NewRequest(http.MethodGet, "/discover?lat=55.6761&lon=12.5683&radius="+radius, nil)
		w := httptest.NewRecorder()

		env.handlers.Discover(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("radius=%s: expected status 400, got %d", radius, w.Code)
			continue
		}
		if resp := decodeError(t, w); resp.Error.Code != ErrCodeValidation {
			t.Errorf("radius=%s: expected validation_error, got %s", radius, resp.Error.Code)
		}
	}

	// The bounds themselves are accepted.
	for _, radius := range []string{"10", "2000"} {
		req := httptest.NewRequest(http.MethodGet, "/discover?lat=55.6761&lon=12.5683&radius="+radius, nil)
		w := httptest.NewRecorder()

		env.handlers.Discover(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("radius=%s: expected status 200, got %d", radius, w.Code)
		}
	}
}

func TestDeletePin_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerDevice(t, "owner")
	intruder := env.registerDevice(t, "intruder")
	p := env.seedPin(t, &owner.ID, "private note")

	req := asDevice(pathRequest(http.MethodDelete, "/pin/1", nil, p.ID), intruder)
	w := httptest.NewRecorder()

	env.handlers.DeletePin(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
}

func TestDeletePin_RequiresDevice(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedPin(t, nil, "anonymous pin")

	req := pathRequest(http.MethodDelete, "/pin/1", nil, p.ID)
	w := httptest.NewRecorder()

	env.handlers.DeletePin(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestDeletePin_CascadesInteractions(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerDevice(t, "owner")
	p := env.seedPin(t, &owner.ID, "short lived")

	if _, _, err := env.ledger.InsertOrGet(context.Background(), owner.ID, p.ID, engagement.KindLike, env.now); err != nil {
		t.Fatalf("failed to seed interaction: %v", err)
	}
	if err := env.sightings.Record(context.Background(), owner.ID, p.ID, env.now); err != nil {
		t.Fatalf("failed to seed sighting: %v", err)
	}

	req := asDevice(pathRequest(http.MethodDelete, "/pin/1", nil, p.ID), owner)
	w := httptest.NewRecorder()

	env.handlers.DeletePin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := env.pins.GetByID(context.Background(), p.ID); err == nil {
		t.Error("expected pin to be gone")
	}
	if n, _ := env.ledger.Count(context.Background()); n != 0 {
		t.Errorf("expected interactions cascaded, got %d", n)
	}
	if n, _ := env.sightings.CountByDevice(context.Background(), owner.ID); n != 0 {
		t.Errorf("expected sightings cascaded, got %d", n)
	}
}
