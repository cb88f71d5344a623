// Package mqtt publishes service events to an MQTT broker.
//
// The package wraps paho.mqtt.golang with connection management, automatic
// reconnection and a Last Will message so subscribers can tell when the
// service goes away. EventSink adapts the client to the events bus.
//
// Topic layout, below the configured prefix:
//
//	<prefix>/status          retained online/offline status (LWT)
//	<prefix>/events/<type>   one message per event, JSON
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	bus.Attach("mqtt", mqtt.NewEventSink(client, cfg.MQTT))
package mqtt
