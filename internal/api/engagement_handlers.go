package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/SanayKrishna/serendipity/internal/engagement"
	"github.com/SanayKrishna/serendipity/internal/middleware"
	"github.com/SanayKrishna/serendipity/internal/notify"
	"github.com/SanayKrishna/serendipity/internal/pin"
)

// VoteResponse is the payload for like, dislike, and report actions.
type VoteResponse struct {
	ID           int64     `json:"id"`
	Likes        int       `json:"likes"`
	Dislikes     int       `json:"dislikes"`
	Reports      int       `json:"reports"`
	IsSuppressed bool      `json:"is_suppressed"`
	ExpiresAt    time.Time `json:"expires_at"`
	Extended     bool      `json:"extended"`
	Message      string    `json:"message"`
}

func toVoteResponse(p *pin.Pin, extended bool, message string) VoteResponse {
	return VoteResponse{
		ID:           p.ID,
		Likes:        p.Likes,
		Dislikes:     p.Dislikes,
		Reports:      p.Reports,
		IsSuppressed: p.IsSuppressed,
		ExpiresAt:    p.ExpiresAt,
		Extended:     extended,
		Message:      message,
	}
}

// PinStatsResponse is the payload for GET /pin/{id}/stats.
type PinStatsResponse struct {
	ID        int64     `json:"id"`
	Likes     int       `json:"likes"`
	Dislikes  int       `json:"dislikes"`
	PassesBy  int       `json:"passes_by"`
	IsActive  bool      `json:"is_active"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

// LikePin handles POST /pin/{id}/like.
//
// A like extends the pin's life by a week, up to the one-year ceiling.
// Identified devices get one vote per pin; a standing dislike flips to a
// like without a second extension. Anonymous likes only move the counter.
func (h *PinHandlers) LikePin(w http.ResponseWriter, r *http.Request) {
	pinID, ok := h.pinIDFromPath(w, r)
	if !ok {
		return
	}

	d, identified := middleware.DeviceFromContext(r.Context())
	if !identified {
		h.applyAnonymousLike(w, r, pinID)
		return
	}

	row, inserted, err := h.ledger.InsertOrGet(r.Context(), d.ID, pinID, engagement.KindLike, h.now().UTC())
	if err != nil {
		h.internalError(w, r, "failed to record like", err)
		return
	}

	if inserted {
		var extended bool
		updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
			p.Likes++
			extended = p.ExtendForLike()
			p.RecomputeSuppression()
			return nil
		})
		if err != nil {
			// The pin vanished between the ledger write and the counter
			// update; drop the orphaned row.
			if errors.Is(err, pin.ErrNotFound) {
				_ = h.ledger.Delete(r.Context(), d.ID, pinID)
				h.writePinNotFound(w, r)
				return
			}
			h.internalError(w, r, "failed to apply like", err)
			return
		}

		h.activity.RecordVote()
		h.metrics.IncPinVotes(engagement.KindLike)
		if updated.DeviceID != nil {
			event := notify.EventPinLiked
			if extended {
				event = notify.EventPinExtended
			}
			h.notifier.Send(r.Context(), *updated.DeviceID, pinID, event)
		}

		writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, extended, likeMessage(extended)))
		return
	}

	switch row.Kind {
	case engagement.KindLike:
		h.respondCurrentPin(w, r, pinID, "You've already liked this pin")

	case engagement.KindDislike:
		if err := h.ledger.SetKind(r.Context(), d.ID, pinID, engagement.KindDislike, engagement.KindLike); err != nil {
			if errors.Is(err, engagement.ErrNotFound) {
				// A concurrent request won the flip; its counter update
				// stands and ours must not repeat it.
				h.respondCurrentPin(w, r, pinID, "You've already liked this pin")
				return
			}
			h.internalError(w, r, "failed to flip vote", err)
			return
		}
		updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
			p.Likes++
			p.Dislikes--
			p.RecomputeSuppression()
			return nil
		})
		if err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				h.writePinNotFound(w, r)
				return
			}
			h.internalError(w, r, "failed to apply vote flip", err)
			return
		}
		h.activity.RecordVote()
		h.metrics.IncPinVotes(engagement.KindLike)
		writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, false, "Changed your vote to like"))

	default:
		// A standing report is final; it never converts into a vote.
		h.respondCurrentPin(w, r, pinID, "You've already reported this pin")
	}
}

// applyAnonymousLike moves the counter without writing a ledger row.
func (h *PinHandlers) applyAnonymousLike(w http.ResponseWriter, r *http.Request, pinID int64) {
	var extended bool
	updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
		p.Likes++
		extended = p.ExtendForLike()
		p.RecomputeSuppression()
		return nil
	})
	if err != nil {
		if errors.Is(err, pin.ErrNotFound) {
			h.writePinNotFound(w, r)
			return
		}
		h.internalError(w, r, "failed to apply like", err)
		return
	}
	h.activity.RecordVote()
	h.metrics.IncPinVotes(engagement.KindLike)
	if updated.DeviceID != nil {
		event := notify.EventPinLiked
		if extended {
			event = notify.EventPinExtended
		}
		h.notifier.Send(r.Context(), *updated.DeviceID, pinID, event)
	}
	writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, extended, likeMessage(extended)))
}

func likeMessage(extended bool) string {
	if extended {
		return "Pin liked! Its life was extended by 7 days"
	}
	return "Pin liked! It's already at the 1-year maximum"
}

// DislikePin handles POST /pin/{id}/dislike. Dislikes never touch the
// expiry; a standing like flips to a dislike.
func (h *PinHandlers) DislikePin(w http.ResponseWriter, r *http.Request) {
	pinID, ok := h.pinIDFromPath(w, r)
	if !ok {
		return
	}

	d, identified := middleware.DeviceFromContext(r.Context())
	if !identified {
		updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
			p.Dislikes++
			return nil
		})
		if err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				h.writePinNotFound(w, r)
				return
			}
			h.internalError(w, r, "failed to apply dislike", err)
			return
		}
		h.activity.RecordVote()
		h.metrics.IncPinVotes(engagement.KindDislike)
		writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, false, "Pin disliked"))
		return
	}

	row, inserted, err := h.ledger.InsertOrGet(r.Context(), d.ID, pinID, engagement.KindDislike, h.now().UTC())
	if err != nil {
		h.internalError(w, r, "failed to record dislike", err)
		return
	}

	if inserted {
		updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
			p.Dislikes++
			return nil
		})
		if err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				_ = h.ledger.Delete(r.Context(), d.ID, pinID)
				h.writePinNotFound(w, r)
				return
			}
			h.internalError(w, r, "failed to apply dislike", err)
			return
		}
		h.activity.RecordVote()
		h.metrics.IncPinVotes(engagement.KindDislike)
		writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, false, "Pin disliked"))
		return
	}

	switch row.Kind {
	case engagement.KindDislike:
		h.respondCurrentPin(w, r, pinID, "You've already disliked this pin")

	case engagement.KindLike:
		if err := h.ledger.SetKind(r.Context(), d.ID, pinID, engagement.KindLike, engagement.KindDislike); err != nil {
			if errors.Is(err, engagement.ErrNotFound) {
				h.respondCurrentPin(w, r, pinID, "You've already disliked this pin")
				return
			}
			h.internalError(w, r, "failed to flip vote", err)
			return
		}
		updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
			p.Likes--
			p.Dislikes++
			p.RecomputeSuppression()
			return nil
		})
		if err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				h.writePinNotFound(w, r)
				return
			}
			h.internalError(w, r, "failed to apply vote flip", err)
			return
		}
		h.activity.RecordVote()
		h.metrics.IncPinVotes(engagement.KindDislike)
		writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, false, "Changed your vote to dislike"))

	default:
		h.respondCurrentPin(w, r, pinID, "You've already reported this pin")
	}
}

// ReportPin handles POST /pin/{id}/report. One report per device; any
// prior interaction of any kind also blocks it.
func (h *PinHandlers) ReportPin(w http.ResponseWriter, r *http.Request) {
	pinID, ok := h.pinIDFromPath(w, r)
	if !ok {
		return
	}

	d, identified := middleware.DeviceFromContext(r.Context())
	if !identified {
		updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
			p.Reports++
			p.RecomputeSuppression()
			return nil
		})
		if err != nil {
			if errors.Is(err, pin.ErrNotFound) {
				h.writePinNotFound(w, r)
				return
			}
			h.internalError(w, r, "failed to apply report", err)
			return
		}
		h.activity.RecordReport()
		h.metrics.IncPinReports()
		writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, false, reportMessage(updated)))
		return
	}

	_, inserted, err := h.ledger.InsertOrGet(r.Context(), d.ID, pinID, engagement.KindReport, h.now().UTC())
	if err != nil {
		h.internalError(w, r, "failed to record report", err)
		return
	}
	if !inserted {
		h.respondCurrentPin(w, r, pinID, "You've already reported this pin")
		return
	}

	updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
		p.Reports++
		p.RecomputeSuppression()
		return nil
	})
	if err != nil {
		if errors.Is(err, pin.ErrNotFound) {
			_ = h.ledger.Delete(r.Context(), d.ID, pinID)
			h.writePinNotFound(w, r)
			return
		}
		h.internalError(w, r, "failed to apply report", err)
		return
	}

	h.activity.RecordReport()
	h.metrics.IncPinReports()
	h.logger.InfoContext(r.Context(), "pin reported",
		slog.Int64("pin_id", pinID),
		slog.Int("reports", updated.Reports),
		slog.Bool("suppressed", updated.IsSuppressed),
	)
	writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(updated, false, reportMessage(updated)))
}

func reportMessage(p *pin.Pin) string {
	if p.IsSuppressed {
		return "Pin reported and hidden from the community"
	}
	return "Pin reported. Thank you for keeping the community safe"
}

// PassBy handles POST /pin/{id}/passby. Pass-bys are fire-and-forget:
// a missing or inactive pin still answers 200 with a zero count.
func (h *PinHandlers) PassBy(w http.ResponseWriter, r *http.Request) {
	pinID, ok := h.pinIDFromPath(w, r)
	if !ok {
		return
	}

	updated, err := h.pins.UpdateEngagement(r.Context(), pinID, func(p *pin.Pin) error {
		p.PassBys++
		return nil
	})
	if err != nil {
		// A missing pin and a failing store both degrade to a zero-count
		// answer; a pass-by is never worth an error response.
		msg := "Pin not found or inactive"
		if !errors.Is(err, pin.ErrNotFound) {
			msg = "Failed to record pass-by"
			h.logger.ErrorContext(r.Context(), "failed to record pass-by",
				slog.Int64("pin_id", pinID),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, r.Context(), http.StatusOK, map[string]any{
			"message":   msg,
			"passes_by": 0,
		})
		return
	}

	if d, identified := middleware.DeviceFromContext(r.Context()); identified {
		if err := h.sightings.Record(r.Context(), d.ID, pinID, h.now().UTC()); err != nil {
			// Sightings only feed the ghost-pin list; losing one is not
			// worth failing the request.
			h.logger.WarnContext(r.Context(), "failed to record sighting",
				slog.Int64("pin_id", pinID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.activity.RecordPassBy()
	h.metrics.IncPinPassBys()
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{
		"message":   "Walked past this ghost",
		"passes_by": updated.PassBys,
	})
}

// PinStats handles GET /pin/{id}/stats. Identified devices are held to a
// per-pin cooldown between reads; expired pins still answer so owners can
// check on their dead ghosts.
func (h *PinHandlers) PinStats(w http.ResponseWriter, r *http.Request) {
	pinID, ok := h.pinIDFromPath(w, r)
	if !ok {
		return
	}

	if d, identified := middleware.DeviceFromContext(r.Context()); identified {
		allowed, wait, err := h.cooldowns.Allow(r.Context(), d.ID, pinID)
		if err != nil {
			h.internalError(w, r, "failed to check stats cooldown", err)
			return
		}
		if !allowed {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeCooldownActive)
			WriteError(w, ctx, http.StatusTooManyRequests, ErrCodeCooldownActive,
				"Checking stats too often. Try again in "+strconv.Itoa(seconds)+"s")
			return
		}
	}

	p, err := h.pins.GetByID(r.Context(), pinID)
	if err != nil {
		if errors.Is(err, pin.ErrNotFound) {
			h.writePinNotFound(w, r)
			return
		}
		h.internalError(w, r, "failed to load pin", err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, PinStatsResponse{
		ID:        p.ID,
		Likes:     p.Likes,
		Dislikes:  p.Dislikes,
		PassesBy:  p.PassBys,
		IsActive:  p.IsActive,
		ExpiresAt: p.ExpiresAt,
		Expired:   !p.IsActive || p.Expired(h.now().UTC()),
	})
}

func (h *PinHandlers) writePinNotFound(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
	WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Pin not found or inactive")
}

// respondCurrentPin answers with the pin's current counters and a message.
// Used when the request changed nothing.
func (h *PinHandlers) respondCurrentPin(w http.ResponseWriter, r *http.Request, pinID int64, message string) {
	current, err := h.pins.GetActive(r.Context(), pinID)
	if err != nil {
		if errors.Is(err, pin.ErrNotFound) {
			h.writePinNotFound(w, r)
			return
		}
		h.internalError(w, r, "failed to load pin", err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, toVoteResponse(current, false, message))
}
