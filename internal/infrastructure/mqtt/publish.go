package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to topic.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// Publisher is the part of Client used by EventSink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventSink publishes each event as JSON to <prefix>/events/<type>.
type EventSink struct {
	pub    Publisher
	topics Topics
	qos    byte
}

// NewEventSink creates a sink publishing through pub with the configured
// prefix and QoS.
func NewEventSink(pub Publisher, cfg config.MQTTConfig) *EventSink {
	return &EventSink{
		pub:    pub,
		topics: Topics{Prefix: cfg.TopicPrefix},
		qos:    byte(cfg.QoS),
	}
}

// eventMessage is the wire form of an event.
type eventMessage struct {
	Type         events.Type        `json:"type"`
	SerialNumber string             `json:"serial_number,omitempty"`
	SessionID    string             `json:"session_id,omitempty"`
	Time         time.Time          `json:"time"`
	Payload      any                `json:"payload,omitempty"`
	Fields       map[string]float64 `json:"fields,omitempty"`
}

// Publish implements events.Sink.
func (s *EventSink) Publish(ctx context.Context, e events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(eventMessage{
		Type:         e.Type,
		SerialNumber: e.SerialNumber,
		SessionID:    e.SessionID,
		Time:         e.Time,
		Payload:      e.Payload,
		Fields:       e.Fields,
	})
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.Type, err)
	}
	return s.pub.Publish(s.topics.Event(e.Type), payload, s.qos, false)
}
