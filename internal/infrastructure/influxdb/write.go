package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-vision/internal/events"
)

// EventMeasurement is the measurement EventSink writes to.
const EventMeasurement = "vision_events"

// WritePointWithTime queues a point for the next batch. It is a no-op
// on a closed client.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// PointWriter is the part of Client used by EventSink.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// EventSink writes events carrying numeric fields as points. Other events
// are skipped.
type EventSink struct {
	w PointWriter
}

// NewEventSink creates a sink writing through w.
func NewEventSink(w PointWriter) *EventSink {
	return &EventSink{w: w}
}

// Publish implements events.Sink.
func (s *EventSink) Publish(_ context.Context, e events.Event) error {
	if len(e.Fields) == 0 {
		return nil
	}

	tags := map[string]string{"type": string(e.Type)}
	if e.SerialNumber != "" {
		tags["serial_number"] = e.SerialNumber
	}

	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	// Session ids are unbounded, so they are a field rather than a tag.
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	s.w.WritePointWithTime(EventMeasurement, tags, fields, ts)
	return nil
}
