package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/SanayKrishna/serendipity/internal/device"
	"github.com/SanayKrishna/serendipity/internal/engagement"
	"github.com/SanayKrishna/serendipity/internal/middleware"
	"github.com/SanayKrishna/serendipity/internal/notify"
	"github.com/SanayKrishna/serendipity/internal/pin"
	"github.com/SanayKrishna/serendipity/internal/sighting"
	"github.com/SanayKrishna/serendipity/internal/stats"
	"github.com/SanayKrishna/serendipity/internal/tracing"
)

// StatsHandlers holds dependencies for the aggregate stats and admin
// cleanup handlers.
type StatsHandlers struct {
	pins      pin.Repository
	devices   device.Repository
	ledger    engagement.Ledger
	sightings sighting.Recorder
	notifier  notify.Sender
	activity  *stats.ActivityStats
	metrics   *middleware.Metrics
	logger    *slog.Logger
	now       func() time.Time

	environment         string
	defaultRadiusMeters int
	defaultExpiryHours  int
}

// StatsHandlersConfig configures the stats handlers.
type StatsHandlersConfig struct {
	Pins                pin.Repository
	Devices             device.Repository
	Ledger              engagement.Ledger
	Sightings           sighting.Recorder
	Notifier            notify.Sender
	Activity            *stats.ActivityStats
	Metrics             *middleware.Metrics
	Logger              *slog.Logger
	Now                 func() time.Time
	Environment         string
	DefaultRadiusMeters int
	DefaultExpiryHours  int
}

// NewStatsHandlers creates a new StatsHandlers instance.
func NewStatsHandlers(config StatsHandlersConfig) *StatsHandlers {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &StatsHandlers{
		pins:                config.Pins,
		devices:             config.Devices,
		ledger:              config.Ledger,
		sightings:           config.Sightings,
		notifier:            config.Notifier,
		activity:            config.Activity,
		metrics:             config.Metrics,
		logger:              config.Logger,
		now:                 now,
		environment:         config.Environment,
		defaultRadiusMeters: config.DefaultRadiusMeters,
		defaultExpiryHours:  config.DefaultExpiryHours,
	}
}

// CleanupResponse is the payload for POST /admin/cleanup.
type CleanupResponse struct {
	DeletedCount int    `json:"deleted_count"`
	Message      string `json:"message"`
	Success      bool   `json:"success"`
}

// Cleanup handles POST /admin/cleanup. Intended for a cron caller; the
// operation is idempotent, a second run finds nothing left to retire.
// With hard_delete=true expired pins are removed outright along with
// their interactions and sightings.
func (h *StatsHandlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard_delete") == "true"

	ctx, endSpan := tracing.StartSpan(r.Context(), "cleanup_expired")
	var spanErr error
	defer func() { endSpan(spanErr) }()

	instant := h.now().UTC()
	affected, err := h.pins.CleanupExpired(ctx, instant, hard)
	if err != nil {
		spanErr = err
		h.internalError(w, r, "cleanup failed", err)
		return
	}

	if hard {
		for _, id := range affected {
			if err := h.ledger.DeleteByPin(ctx, id); err != nil {
				spanErr = err
				h.internalError(w, r, "cleanup failed to cascade interactions", err)
				return
			}
			if err := h.sightings.DeleteByPin(ctx, id); err != nil {
				spanErr = err
				h.internalError(w, r, "cleanup failed to cascade sightings", err)
				return
			}
		}
	} else {
		// Retired pins still exist, so owners can be told their ghost
		// faded away.
		for _, id := range affected {
			p, err := h.pins.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, pin.ErrNotFound) {
					continue
				}
				spanErr = err
				h.internalError(w, r, "cleanup failed to load retired pin", err)
				return
			}
			if p.DeviceID != nil {
				h.notifier.Send(ctx, *p.DeviceID, id, notify.EventPinExpired)
			}
		}
	}

	h.activity.RecordPinsExpired(int64(len(affected)))
	h.metrics.AddPinsExpired(len(affected))
	tracing.SetAttributes(ctx, attribute.Int("affected", len(affected)), attribute.Bool("hard_delete", hard))

	action := "marked as inactive"
	if hard {
		action = "permanently deleted"
	}
	h.logger.InfoContext(r.Context(), "cleanup complete",
		slog.Int("count", len(affected)),
		slog.Bool("hard_delete", hard),
	)

	writeJSON(w, r.Context(), http.StatusOK, CleanupResponse{
		DeletedCount: len(affected),
		Message:      fmt.Sprintf("Cleanup complete: %d expired pins %s", len(affected), action),
		Success:      true,
	})
}

// GlobalStatsResponse is the payload for GET /stats.
type GlobalStatsResponse struct {
	TotalPins             int64  `json:"total_pins"`
	ActivePins            int64  `json:"active_pins"`
	ExpiredPins           int64  `json:"expired_pins"`
	TotalDevices          int64  `json:"total_devices"`
	TotalInteractions     int64  `json:"total_interactions"`
	Environment           string `json:"environment"`
	DiscoveryRadiusMeters int    `json:"discovery_radius_meters"`
	PinExpiryHours        int    `json:"pin_expiry_hours"`
}

// GlobalStats handles GET /stats - deployment-wide totals.
func (h *StatsHandlers) GlobalStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.pins.Counts(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to count pins", err)
		return
	}
	deviceCount, err := h.devices.Count(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to count devices", err)
		return
	}
	interactionCount, err := h.ledger.Count(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to count interactions", err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, GlobalStatsResponse{
		TotalPins:             counts.Total,
		ActivePins:            counts.Active,
		ExpiredPins:           counts.Total - counts.Active,
		TotalDevices:          deviceCount,
		TotalInteractions:     interactionCount,
		Environment:           h.environment,
		DiscoveryRadiusMeters: h.defaultRadiusMeters,
		PinExpiryHours:        h.defaultExpiryHours,
	})
}

// CommunityStatsResponse is the payload for GET /community/stats.
type CommunityStatsResponse struct {
	TotalCommunityPins int64  `json:"total_community_pins"`
	UserCommunityPins  int64  `json:"user_community_pins"`
	Message            string `json:"message"`
}

// CommunityStats handles GET /community/stats. The caller's own count is
// included when the request carries a device identity.
func (h *StatsHandlers) CommunityStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.pins.Counts(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to count community pins", err)
		return
	}

	var own int64
	if d, ok := middleware.DeviceFromContext(r.Context()); ok {
		own, err = h.pins.CountCommunityByDevice(r.Context(), d.ID, true)
		if err != nil {
			h.internalError(w, r, "failed to count own community pins", err)
			return
		}
	}

	writeJSON(w, r.Context(), http.StatusOK, CommunityStatsResponse{
		TotalCommunityPins: counts.Community,
		UserCommunityPins:  own,
		Message:            "Community stats retrieved",
	})
}

func (h *StatsHandlers) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, slog.String("error", err.Error()))
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
	WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
}
