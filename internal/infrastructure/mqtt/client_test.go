package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-vision-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "test/vision",
	}
}

// requireBroker skips the test unless a broker listens on 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker at 127.0.0.1:1883")
	}
	conn.Close()
}

// =============================================================================
// Topics and options
// =============================================================================

func TestTopics(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		got    func(Topics) string
		want   string
	}{
		{"status", "plant/vision", Topics.Status, "plant/vision/status"},
		{"event", "plant/vision", func(t Topics) string { return t.Event(events.CalibrationUpdated) }, "plant/vision/events/calibration.updated"},
		{"all events", "plant/vision/", Topics.AllEvents, "plant/vision/events/#"},
		{"default prefix", "", Topics.Status, "graylogic-vision/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(Topics{Prefix: tt.prefix}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "vision"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "graylogic-vision-test" || opts.Username != "vision" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("reconnect = %v %v", opts.AutoReconnect, opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" || opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLS options = %v %+v", opts.Servers, opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{Prefix: "test/vision"}, "cid")

	if !opts.WillEnabled || opts.WillTopic != "test/vision/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var body map[string]string
	if err := json.Unmarshal(opts.WillPayload, &body); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if body["status"] != "offline" || body["reason"] != "unexpected_disconnect" || body["client_id"] != "cid" {
		t.Errorf("will payload = %v", body)
	}
}

func TestStatusPayload(t *testing.T) {
	var body map[string]string
	if err := json.Unmarshal([]byte(statusPayload("online", `we"ird`, "")), &body); err != nil {
		t.Fatalf("statusPayload() is not JSON: %v", err)
	}
	if body["client_id"] != `we"ird` {
		t.Errorf("client_id = %q", body["client_id"])
	}
	if _, ok := body["reason"]; ok {
		t.Error("empty reason was encoded")
	}
}

// =============================================================================
// Publish validation
// =============================================================================

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"ok", "a/b", []byte("{}"), 1, nil},
		{"empty topic", "", nil, 0, ErrInvalidTopic},
		{"bad qos", "a", nil, 3, ErrInvalidQoS},
		{"too large", "a", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.want) {
				t.Errorf("validatePublish() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	c := &Client{}
	if err := c.Publish("a/b", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&Client{}).HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
}

// =============================================================================
// EventSink
// =============================================================================

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return f.err
}

func TestEventSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEventSink(pub, testConfig())
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	err := sink.Publish(context.Background(), events.Event{
		Type:         events.InfieldDatasetAdded,
		SerialNumber: "SIM-0001",
		SessionID:    "s-1",
		Time:         at,
		Fields:       map[string]float64{"dataset_size": 2},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	m := pub.msgs[0]
	if m.topic != "test/vision/events/infield.dataset_added" || m.qos != 1 || m.retained {
		t.Errorf("message = %q qos %d retained %v", m.topic, m.qos, m.retained)
	}

	var got map[string]any
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	want := map[string]any{
		"type":          "infield.dataset_added",
		"serial_number": "SIM-0001",
		"session_id":    "s-1",
		"time":          "2026-03-01T09:30:00Z",
		"fields":        map[string]any{"dataset_size": 2.0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestEventSink_Errors(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	sink := NewEventSink(pub, testConfig())

	if err := sink.Publish(context.Background(), events.Event{Type: events.CameraEvicted}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}

	err := sink.Publish(context.Background(), events.Event{Type: events.CameraEvicted, Payload: func() {}})
	if err == nil || !strings.Contains(err.Error(), "encoding event") {
		t.Errorf("Publish(unencodable) = %v", err)
	}
}

// =============================================================================
// Broker tests
// =============================================================================

func TestConnect(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	sink := NewEventSink(client, testConfig())
	if err := sink.Publish(context.Background(), events.Event{Type: events.ProjectionStarted, Time: time.Now()}); err != nil {
		t.Errorf("EventSink.Publish() = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
