// Package notify delivers best-effort owner notifications for pin events.
// Delivery failures never fail the request that triggered them.
package notify

import (
	"context"
	"log/slog"
)

// Event names a pin occurrence worth telling the owner about.
type Event string

const (
	// EventPinCreated fires when a device leaves a new pin.
	EventPinCreated Event = "pin_created"
	// EventPinLiked fires when a pin receives a like.
	EventPinLiked Event = "pin_liked"
	// EventPinExtended fires when a like pushed the pin's expiry forward.
	EventPinExtended Event = "pin_extended"
	// EventPinExpired fires when cleanup retires a pin.
	EventPinExpired Event = "pin_expired"
)

// Sender delivers an event about a pin to its owning device.
type Sender interface {
	Send(ctx context.Context, deviceID int64, pinID int64, event Event)
}

// LogSender writes events to the structured log. It stands in for a push
// transport in deployments that have none.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the event.
func (s *LogSender) Send(ctx context.Context, deviceID int64, pinID int64, event Event) {
	s.logger.InfoContext(ctx, "pin notification",
		slog.Int64("device_id", deviceID),
		slog.Int64("pin_id", pinID),
		slog.String("event", string(event)),
	)
}

// Discard drops every event. Useful in tests.
type Discard struct{}

// Send does nothing.
func (Discard) Send(ctx context.Context, deviceID int64, pinID int64, event Event) {}
