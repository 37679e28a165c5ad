// Package api provides HTTP handlers for the pin lifecycle API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/SanayKrishna/serendipity/internal/content"
	"github.com/SanayKrishna/serendipity/internal/cooldown"
	"github.com/SanayKrishna/serendipity/internal/device"
	"github.com/SanayKrishna/serendipity/internal/engagement"
	"github.com/SanayKrishna/serendipity/internal/geo"
	"github.com/SanayKrishna/serendipity/internal/middleware"
	"github.com/SanayKrishna/serendipity/internal/notify"
	"github.com/SanayKrishna/serendipity/internal/pin"
	"github.com/SanayKrishna/serendipity/internal/sighting"
	"github.com/SanayKrishna/serendipity/internal/stats"
)

// Precision of values leaving the API: coordinates carry 7 decimals,
// distances 2.
const (
	coordDecimals    = 7
	distanceDecimals = 2
)

// PinHandlers holds dependencies for pin HTTP handlers.
type PinHandlers struct {
	pins      pin.Repository
	devices   device.Repository
	ledger    engagement.Ledger
	sightings sighting.Recorder
	cooldowns cooldown.Store
	filter    *content.Filter
	notifier  notify.Sender
	activity  *stats.ActivityStats
	metrics   *middleware.Metrics
	logger    *slog.Logger
	now       func() time.Time

	defaultRadiusMeters int
}

// PinHandlersConfig configures the pin handlers. Now defaults to
// time.Now when nil.
type PinHandlersConfig struct {
	Pins                pin.Repository
	Devices             device.Repository
	Ledger              engagement.Ledger
	Sightings           sighting.Recorder
	Cooldowns           cooldown.Store
	Filter              *content.Filter
	Notifier            notify.Sender
	Activity            *stats.ActivityStats
	Metrics             *middleware.Metrics
	Logger              *slog.Logger
	Now                 func() time.Time
	DefaultRadiusMeters int
}

// NewPinHandlers creates a new PinHandlers instance.
func NewPinHandlers(config PinHandlersConfig) *PinHandlers {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	radius := config.DefaultRadiusMeters
	if radius == 0 {
		radius = 50
	}
	radius = pin.ClampRadius(radius)
	return &PinHandlers{
		pins:                config.Pins,
		devices:             config.Devices,
		ledger:              config.Ledger,
		sightings:           config.Sightings,
		cooldowns:           config.Cooldowns,
		filter:              config.Filter,
		notifier:            config.Notifier,
		activity:            config.Activity,
		metrics:             config.Metrics,
		logger:              config.Logger,
		now:                 now,
		defaultRadiusMeters: radius,
	}
}

// CreatePinRequest represents the request body for leaving a pin.
type CreatePinRequest struct {
	Content       string  `json:"content"`
	Latitude      float64 `json:"lat"`
	Longitude     float64 `json:"lon"`
	DurationHours int     `json:"duration_hours,omitempty"`
	IsCommunity   bool    `json:"is_community,omitempty"`
}

// PinResponse represents a pin record. Coordinates are deliberately
// omitted: a pin's exact anchor is only ever revealed through discovery.
type PinResponse struct {
	ID           int64     `json:"id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Likes        int       `json:"likes"`
	Dislikes     int       `json:"dislikes"`
	Reports      int       `json:"reports"`
	PassesBy     int       `json:"passes_by"`
	IsActive     bool      `json:"is_active"`
	IsSuppressed bool      `json:"is_suppressed"`
	IsCommunity  bool      `json:"is_community"`
}

func toPinResponse(p *pin.Pin) PinResponse {
	return PinResponse{
		ID:           p.ID,
		Content:      p.Content,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
		Likes:        p.Likes,
		Dislikes:     p.Dislikes,
		Reports:      p.Reports,
		PassesBy:     p.PassBys,
		IsActive:     p.IsActive,
		IsSuppressed: p.IsSuppressed,
		IsCommunity:  p.IsCommunity,
	}
}

// DiscoveredPin is a pin as revealed to a nearby device.
type DiscoveredPin struct {
	ID             int64     `json:"id"`
	Content        string    `json:"content"`
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lon"`
	DistanceMeters float64   `json:"distance_meters"`
	Likes          int       `json:"likes"`
	Dislikes       int       `json:"dislikes"`
	Reports        int       `json:"reports"`
	PassesBy       int       `json:"passes_by"`
	IsSuppressed   bool      `json:"is_suppressed"`
	IsCommunity    bool      `json:"is_community"`
	IsOwnPin       bool      `json:"is_own_pin"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// DiscoverResponse is the payload for GET /discover.
type DiscoverResponse struct {
	Pins    []DiscoveredPin `json:"pins"`
	Count   int             `json:"count"`
	Message string          `json:"message"`
}

// CreatePin handles POST /pin - leaves a hidden message at a location.
// Device identity is optional; identified devices get the daily quota and
// duplicate guard applied, anonymous pins belong to nobody.
func (h *PinHandlers) CreatePin(w http.ResponseWriter, r *http.Request) {
	var req CreatePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if err := geo.ValidateLat(req.Latitude); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err := geo.ValidateLon(req.Longitude); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	sanitized, err := h.filter.Validate(req.Content)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	durationHours := req.DurationHours
	if durationHours == 0 {
		durationHours = pin.DefaultDurationHours
	}
	now := h.now().UTC()

	var deviceID *int64
	if d, ok := middleware.DeviceFromContext(r.Context()); ok {
		// Quota ceiling first, then the duplicate guard, then the consuming
		// increment. An over-quota device hears about the quota even when it
		// is also re-pinning a spot, and a rejected duplicate never burns a
		// quota unit.
		dev, err := h.devices.GetByID(r.Context(), d.ID)
		if err != nil {
			h.internalError(w, r, "failed to load device", err)
			return
		}
		if dev.QuotaRemaining(now) == 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeQuotaExceeded)
			WriteError(w, ctx, http.StatusTooManyRequests, ErrCodeQuotaExceeded,
				"Daily pin limit exceeded. Try again tomorrow!")
			return
		}

		recent, err := h.pins.HasRecentNearby(r.Context(), d.ID, req.Latitude, req.Longitude,
			pin.DuplicateRadiusMeters, now.Add(-pin.DuplicateWindow))
		if err != nil {
			h.internalError(w, r, "failed to check for nearby pins", err)
			return
		}
		if recent {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeDuplicatePin)
			WriteError(w, ctx, http.StatusConflict, ErrCodeDuplicatePin,
				"You've already left a message near this location recently. Wait a bit or move to a new spot!")
			return
		}

		if err := h.devices.ConsumeQuota(r.Context(), d.ID, now); err != nil {
			if errors.Is(err, device.ErrQuotaExceeded) {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeQuotaExceeded)
				WriteError(w, ctx, http.StatusTooManyRequests, ErrCodeQuotaExceeded,
					"Daily pin limit exceeded. Try again tomorrow!")
				return
			}
			h.internalError(w, r, "failed to consume pin quota", err)
			return
		}
		id := d.ID
		deviceID = &id
	}

	p := &pin.Pin{
		DeviceID:    deviceID,
		Content:     sanitized,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		CreatedAt:   now,
		ExpiresAt:   now.Add(pin.ClampDuration(durationHours)),
		IsActive:    true,
		IsCommunity: req.IsCommunity,
	}
	if err := h.pins.Create(r.Context(), p); err != nil {
		h.internalError(w, r, "failed to create pin", err)
		return
	}

	h.activity.RecordPinCreated()
	h.metrics.IncPinsCreated()
	h.logger.InfoContext(r.Context(), "pin created",
		slog.Int64("pin_id", p.ID),
		slog.String("area", geo.Coarse(p.Latitude, p.Longitude)),
	)
	if deviceID != nil {
		h.notifier.Send(r.Context(), *deviceID, p.ID, notify.EventPinCreated)
	}

	writeJSON(w, r.Context(), http.StatusCreated, toPinResponse(p))
}

// Discover handles GET /discover - reveals active pins near a location.
func (h *PinHandlers) Discover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil || geo.ValidateLat(lat) != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lat must be a latitude between -90 and 90")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil || geo.ValidateLon(lon) != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lon must be a longitude between -180 and 180")
		return
	}

	radius := h.defaultRadiusMeters
	if raw := q.Get("radius"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "radius must be an integer number of meters")
			return
		}
		if parsed < pin.MinRadiusMeters || parsed > pin.MaxRadiusMeters {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
				fmt.Sprintf("radius must be between %d and %d meters", pin.MinRadiusMeters, pin.MaxRadiusMeters))
			return
		}
		radius = parsed
	}

	found, err := h.pins.DiscoverNearby(r.Context(), lat, lon, radius, pin.MaxDiscoveryResults, h.now().UTC())
	if err != nil {
		h.internalError(w, r, "failed to discover pins", err)
		return
	}

	var callerID int64
	if d, ok := middleware.DeviceFromContext(r.Context()); ok {
		callerID = d.ID
	}

	pins := make([]DiscoveredPin, 0, len(found))
	for _, f := range found {
		pins = append(pins, DiscoveredPin{
			ID:             f.ID,
			Content:        f.Content,
			Latitude:       geo.Round(f.Latitude, coordDecimals),
			Longitude:      geo.Round(f.Longitude, coordDecimals),
			DistanceMeters: geo.Round(f.DistanceMeters, distanceDecimals),
			Likes:          f.Likes,
			Dislikes:       f.Dislikes,
			Reports:        f.Reports,
			PassesBy:       f.PassBys,
			IsSuppressed:   f.IsSuppressed,
			IsCommunity:    f.IsCommunity,
			IsOwnPin:       callerID != 0 && f.OwnedBy(callerID),
			ExpiresAt:      f.ExpiresAt,
		})
	}

	message := "No messages discovered yet. Keep exploring!"
	if len(pins) > 0 {
		message = fmt.Sprintf("Found %d hidden message(s) nearby!", len(pins))
	}

	h.activity.RecordDiscovery()
	h.metrics.ObserveDiscoveryResults(len(pins))
	h.logger.InfoContext(r.Context(), "discovery served",
		slog.Int("count", len(pins)),
		slog.String("area", geo.Coarse(lat, lon)),
	)

	writeJSON(w, r.Context(), http.StatusOK, DiscoverResponse{
		Pins:    pins,
		Count:   len(pins),
		Message: message,
	})
}

// DeletePin handles DELETE /pin/{id} - owners remove their own pins.
// Interaction and sighting records go with the pin.
func (h *PinHandlers) DeletePin(w http.ResponseWriter, r *http.Request) {
	d, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeDeviceRequired)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeDeviceRequired, "Device ID required to delete pins")
		return
	}

	pinID, ok := h.pinIDFromPath(w, r)
	if !ok {
		return
	}

	p, err := h.pins.GetActive(r.Context(), pinID)
	if err != nil {
		if errors.Is(err, pin.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Pin not found")
			return
		}
		h.internalError(w, r, "failed to load pin", err)
		return
	}
	if !p.OwnedBy(d.ID) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "You can only delete your own pins")
		return
	}

	// Remove dependent records first so every backend ends up consistent;
	// Postgres would also cascade via the foreign keys.
	if err := h.ledger.DeleteByPin(r.Context(), pinID); err != nil {
		h.internalError(w, r, "failed to delete pin interactions", err)
		return
	}
	if err := h.sightings.DeleteByPin(r.Context(), pinID); err != nil {
		h.internalError(w, r, "failed to delete pin sightings", err)
		return
	}
	if err := h.pins.Delete(r.Context(), pinID); err != nil {
		h.internalError(w, r, "failed to delete pin", err)
		return
	}

	h.logger.InfoContext(r.Context(), "pin deleted by owner", slog.Int64("pin_id", pinID))

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{
		"message": "Pin deleted successfully",
		"pin_id":  pinID,
	})
}

// pinIDFromPath parses the {id} path segment, writing a 400 on failure.
func (h *PinHandlers) pinIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "pin id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *PinHandlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}
