package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/SanayKrishna/serendipity/internal/device"
)

// DeviceIDHeader carries the caller's self-assigned device identifier.
const DeviceIDHeader = "X-Device-ID"

// AuthKindHeader optionally names the caller's auth tier. Unknown or
// missing values resolve to the anonymous device tier.
const AuthKindHeader = "X-Auth-Kind"

// maxDeviceIDLength bounds the external identifier so callers cannot stuff
// arbitrary blobs into the devices table.
const maxDeviceIDLength = 128

type deviceKey struct{}

// DeviceFromContext returns the resolved device, if the identity middleware
// ran and the request carried one.
func DeviceFromContext(ctx context.Context) (*device.Device, bool) {
	d, ok := ctx.Value(deviceKey{}).(*device.Device)
	return d, ok
}

// WithDevice returns a context carrying the resolved device. Handlers read
// it through DeviceFromContext.
func WithDevice(ctx context.Context, d *device.Device) context.Context {
	return context.WithValue(ctx, deviceKey{}, d)
}

// Identity resolves the caller's device from the X-Device-ID header and
// stores it in the request context. Requests without the header pass
// through unresolved; handlers that need an identity reject them.
//
// Resolution registers unseen devices on first contact and bumps last-seen
// on every request. A linked-account header upgrades a device-tier record
// in place; the reverse downgrade is ignored.
func Identity(repo device.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			externalID := r.Header.Get(DeviceIDHeader)
			if externalID == "" || len(externalID) > maxDeviceIDLength {
				next.ServeHTTP(w, r)
				return
			}

			kind := device.ParseAuthKind(r.Header.Get(AuthKindHeader))
			d, err := repo.GetOrCreate(r.Context(), externalID, kind, time.Now().UTC())
			if err != nil {
				// Identity is best-effort at this layer; the handler
				// decides whether the request can proceed without it.
				logger.ErrorContext(r.Context(), "failed to resolve device",
					slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithDevice(r.Context(), d)
			ctx = SetDeviceID(ctx, d.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
