// Package api implements the HTTP handlers for pins, engagement, discovery,
// and aggregate stats.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SanayKrishna/serendipity/internal/middleware"
)

// Error codes carried in the response envelope and on the request log line.
const (
	ErrCodeValidation     = "validation_error"
	ErrCodeDeviceRequired = "device_required"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeForbidden      = "forbidden"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeQuotaExceeded  = "quota_exceeded"
	ErrCodeDuplicatePin   = "duplicate_pin"
	ErrCodeCooldownActive = "cooldown_active"
)

// ErrorResponse is the envelope every API error uses:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds the machine code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the error envelope with the given status. Pass a context
// that went through middleware.SetErrorCode so the code lands on the access
// log line:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Pin not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
