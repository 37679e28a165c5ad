package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/SanayKrishna/serendipity/internal/device"
	"github.com/SanayKrishna/serendipity/internal/engagement"
	"github.com/SanayKrishna/serendipity/internal/middleware"
	"github.com/SanayKrishna/serendipity/internal/pin"
	"github.com/SanayKrishna/serendipity/internal/sighting"
)

// Listing limits for the per-device endpoints.
const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// UserHandlers holds dependencies for per-device HTTP handlers.
type UserHandlers struct {
	pins      pin.Repository
	ledger    engagement.Ledger
	sightings sighting.Recorder
	logger    *slog.Logger
}

// NewUserHandlers creates a new UserHandlers instance.
func NewUserHandlers(pins pin.Repository, ledger engagement.Ledger, sightings sighting.Recorder, logger *slog.Logger) *UserHandlers {
	return &UserHandlers{
		pins:      pins,
		ledger:    ledger,
		sightings: sightings,
		logger:    logger,
	}
}

// UserStatsResponse summarizes a device's activity.
type UserStatsResponse struct {
	LikedCount         int64  `json:"liked_count"`
	DislikedCount      int64  `json:"disliked_count"`
	PinsCreated        int64  `json:"pins_created"`
	PinsDiscovered     int64  `json:"pins_discovered"`
	CommunitiesCreated int64  `json:"communities_created"`
	Message            string `json:"message"`
}

// UserStats handles GET /user/stats. An unidentified caller gets zeros, not
// an error, so clients can render the screen before the device registers.
func (h *UserHandlers) UserStats(w http.ResponseWriter, r *http.Request) {
	d, ok := middleware.DeviceFromContext(r.Context())
	if !ok {
		writeJSON(w, r.Context(), http.StatusOK, UserStatsResponse{
			Message: "No device ID provided",
		})
		return
	}

	tally, err := h.ledger.TallyByDevice(r.Context(), d.ID)
	if err != nil {
		h.internalError(w, r, "failed to tally interactions", err)
		return
	}
	created, err := h.pins.CountByDevice(r.Context(), d.ID)
	if err != nil {
		h.internalError(w, r, "failed to count pins", err)
		return
	}
	communities, err := h.pins.CountCommunityByDevice(r.Context(), d.ID, false)
	if err != nil {
		h.internalError(w, r, "failed to count community pins", err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, UserStatsResponse{
		LikedCount:         tally.Likes,
		DislikedCount:      tally.Dislikes,
		PinsCreated:        created,
		PinsDiscovered:     tally.Likes + tally.Dislikes + tally.Reports,
		CommunitiesCreated: communities,
		Message:            "Stats retrieved successfully",
	})
}

// CreatedPins handles GET /user/created-pins - a device's own pins, newest
// first.
func (h *UserHandlers) CreatedPins(w http.ResponseWriter, r *http.Request) {
	d, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}

	pins, err := h.pins.ListByDevice(r.Context(), d.ID, limit)
	if err != nil {
		h.internalError(w, r, "failed to list pins", err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, toPinResponses(pins))
}

// SearchCreatedPins handles GET /user/created-pins/search - full-text search
// over a device's own pins.
func (h *UserHandlers) SearchCreatedPins(w http.ResponseWriter, r *http.Request) {
	d, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "q is required")
		return
	}
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}

	pins, err := h.pins.SearchByDevice(r.Context(), d.ID, query, limit)
	if err != nil {
		h.internalError(w, r, "failed to search pins", err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, toPinResponses(pins))
}

// GhostPins handles GET /user/ghost-pins - pins the device has walked past,
// most recently seen first.
func (h *UserHandlers) GhostPins(w http.ResponseWriter, r *http.Request) {
	d, ok := h.requireDevice(w, r)
	if !ok {
		return
	}
	limit, ok := h.listLimit(w, r)
	if !ok {
		return
	}

	ids, err := h.sightings.ListPinIDsByDevice(r.Context(), d.ID, limit)
	if err != nil {
		h.internalError(w, r, "failed to list sightings", err)
		return
	}

	pins := make([]PinResponse, 0, len(ids))
	for _, id := range ids {
		p, err := h.pins.GetByID(r.Context(), id)
		if err != nil {
			// Sightings can outlive soft-deleted pins briefly; skip.
			if errors.Is(err, pin.ErrNotFound) {
				continue
			}
			h.internalError(w, r, "failed to load sighted pin", err)
			return
		}
		pins = append(pins, toPinResponse(p))
	}
	writeJSON(w, r.Context(), http.StatusOK, pins)
}

func toPinResponses(pins []*pin.Pin) []PinResponse {
	out := make([]PinResponse, 0, len(pins))
	for _, p := range pins {
		out = append(out, toPinResponse(p))
	}
	return out
}

func (h *UserHandlers) requireDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	dev, found := middleware.DeviceFromContext(r.Context())
	if !found {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeDeviceRequired)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeDeviceRequired, "Device ID required")
		return nil, false
	}
	return dev, true
}

func (h *UserHandlers) listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
				"limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (h *UserHandlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}
