package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-vision/internal/camera/sim"
)

// dialWS starts an HTTP server for e and connects a WebSocket client.
func dialWS(t *testing.T, e *testEnv, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(e.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, err
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // deadline errors surface on the read
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, id string, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      id,
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != id {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_ReceivesSubscribedEvents(t *testing.T) {
	e := newTestEnv(t)
	ws, _, err := dialWS(t, e, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	subscribe(t, ws, "sub-1", "calibration.started")

	expectStatus(t, e.do(t, http.MethodGet, "/cameras/"+testSerial+"/frame/board-pose", nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPost, "/calibrations?serial_number="+testSerial, nil), http.StatusCreated)

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != "calibration.started" {
		t.Fatalf("message = %+v", msg)
	}
	payload, _ := json.Marshal(msg.Payload)
	var ev struct {
		SerialNumber string `json:"serial_number"`
		SessionID    string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if ev.SerialNumber != testSerial || ev.SessionID == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestWebSocket_WildcardAndPing(t *testing.T) {
	e := newTestEnv(t)
	ws, _, err := dialWS(t, e, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	if err := ws.WriteJSON(WSMessage{Type: "shout", ID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError {
		t.Errorf("unknown type reply = %+v", msg)
	}

	subscribe(t, ws, "sub-all", WSChannelAll)
	expectStatus(t, e.do(t, http.MethodPost, "/projectors/"+testSerial, nil), http.StatusOK)
	if msg := readMessage(t, ws); msg.EventType != "projection.started" {
		t.Errorf("event = %+v", msg)
	}
}

func TestWebSocket_TicketRequiredWithAuth(t *testing.T) {
	e := newTestEnv(t, withSecret(testSecret))

	_, resp, err := dialWS(t, e, "")
	if err == nil {
		t.Fatal("dial without ticket succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without ticket response = %v", resp)
	}

	ticket := e.srv.tickets.issue("robot-cell-1")
	ws, _, err := dialWS(t, e, "?ticket="+ticket)
	if err != nil {
		t.Fatalf("dial with ticket: %v", err)
	}
	subscribe(t, ws, "sub-1", "calibration.started")

	if _, resp, err := dialWS(t, e, "?ticket="+ticket); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused ticket: err = %v", err)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	e := newTestEnv(t)
	ws, _, err := dialWS(t, e, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	subscribe(t, ws, "sub-1", "projection.started", "projection.stopped")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"projection.started"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if msg := readMessage(t, ws); msg.ID != "unsub-1" {
		t.Fatalf("unsubscribe response = %+v", msg)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/projectors/"+testSerial, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodDelete, "/projectors/"+testSerial, nil), http.StatusNoContent)
	if msg := readMessage(t, ws); msg.EventType != "projection.stopped" {
		t.Errorf("first event after unsubscribe = %+v", msg)
	}
	if e.srv.Hub().ClientCount() != 1 {
		t.Errorf("clients = %d", e.srv.Hub().ClientCount())
	}
}

func TestWebSocket_SerialFilter(t *testing.T) {
	e := newTestEnv(t, withSimConfig(sim.Config{
		Cameras: []sim.CameraConfig{{SerialNumber: testSerial}, {SerialNumber: "SIM-0002"}},
	}))
	ws, _, err := dialWS(t, e, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"projection.started"}, SerialNumbers: []string{"SIM-0002"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse {
		t.Fatalf("subscribe response = %+v", msg)
	}

	expectStatus(t, e.do(t, http.MethodPost, "/projectors/"+testSerial, nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPost, "/projectors/SIM-0002", nil), http.StatusOK)

	msg := readMessage(t, ws)
	payload, _ := json.Marshal(msg.Payload)
	if !strings.Contains(string(payload), `"serial_number":"SIM-0002"`) {
		t.Errorf("first delivered event = %s, want the SIM-0002 projection", payload)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	e := newTestEnv(t)
	ws, _, err := dialWS(t, e, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeError || msg.ID != "sub-1" {
		t.Errorf("reply = %+v, want an error", msg)
	}
}
