package mqtt

import (
	"strings"

	"github.com/nerrad567/gray-logic-vision/internal/events"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "graylogic-vision"

// Topics builds topic names below a prefix.
//
//	topics := mqtt.Topics{Prefix: "plant-a/vision"}
//	topics.Event(events.CalibrationUpdated)
//	// Returns: "plant-a/vision/events/calibration.updated"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// Status returns the retained online/offline status topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Event returns the topic for one event type.
func (t Topics) Event(typ events.Type) string {
	return t.prefix() + "/events/" + string(typ)
}

// AllEvents returns a wildcard matching every event topic.
func (t Topics) AllEvents() string {
	return t.prefix() + "/events/#"
}
