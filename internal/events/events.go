// Package events fans session and device lifecycle events out to the
// websocket hub, MQTT, InfluxDB, the audit trail and metrics.
package events

import (
	"context"
	"sync"
	"time"
)

// Type identifies what happened.
type Type string

// Event types published by the camera, calibration, infield and projection
// components.
const (
	CameraEvicted         Type = "camera.evicted"
	CameraDisconnected    Type = "camera.disconnected"
	CameraFirmwareUpdated Type = "camera.firmware_updated"

	CalibrationStarted Type = "calibration.started"
	CalibrationUpdated Type = "calibration.updated"
	CalibrationDeleted Type = "calibration.deleted"
	CalibrationCleared Type = "calibration.cleared"

	InfieldStarted      Type = "infield.started"
	InfieldDatasetAdded Type = "infield.dataset_added"
	InfieldCommitted    Type = "infield.committed"
	InfieldDeleted      Type = "infield.deleted"
	InfieldReset        Type = "infield.reset"

	ProjectionStarted Type = "projection.started"
	ProjectionStopped Type = "projection.stopped"
)

var known = map[Type]bool{
	CameraEvicted: true, CameraDisconnected: true, CameraFirmwareUpdated: true,
	CalibrationStarted: true, CalibrationUpdated: true, CalibrationDeleted: true, CalibrationCleared: true,
	InfieldStarted: true, InfieldDatasetAdded: true, InfieldCommitted: true, InfieldDeleted: true, InfieldReset: true,
	ProjectionStarted: true, ProjectionStopped: true,
}

// Known reports whether t is one of the published event types.
func Known(t Type) bool {
	return known[t]
}

// Event is one occurrence. Fields carries numeric measurements (residuals,
// accuracy estimates) that telemetry sinks record; Payload is free-form
// detail for humans and websocket clients.
type Event struct {
	Type         Type               `json:"type"`
	SerialNumber string             `json:"serial_number,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	Time         time.Time          `json:"time"`
	Payload      any                `json:"payload,omitempty"`
	Fields       map[string]float64 `json:"fields,omitempty"`
}

// Publisher is what components emit events through.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Sink receives every event published on a Bus.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Publish calls f(ctx, e).
func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Logger is the logging interface used by the bus.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

type namedSink struct {
	name string
	sink Sink
}

// Bus delivers events to every attached sink in attach order. A sink that
// fails is logged and skipped; publishing never fails the caller.
type Bus struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger Logger
	now    func() time.Time
}

// NewBus creates a bus with no sinks.
func NewBus() *Bus {
	return &Bus{
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger used to report sink failures.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Attach adds a sink. The name appears in failure logs.
func (b *Bus) Attach(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
}

// Publish stamps e with the current time if unset and hands it to each sink.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = b.now().UTC()
	}

	b.mu.RLock()
	sinks := b.sinks
	logger := b.logger
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.sink.Publish(ctx, e); err != nil {
			logger.Warn("event sink failed",
				"sink", s.name,
				"type", string(e.Type),
				"error", err,
			)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) {}
