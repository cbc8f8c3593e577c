package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mobilecontrol/models"
)

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, env *testEnv, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.wsServer.URL, "http") + "/" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial failed (status %d): %v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wsEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return ev
}

// readUntil skips events until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wsEvent {
	t.Helper()
	for i := 0; i < 20; i++ {
		if ev := readEvent(t, conn); ev.Type == eventType {
			return ev
		}
	}
	t.Fatalf("no %s event received", eventType)
	return wsEvent{}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload map[string]interface{}) {
	t.Helper()
	if err := conn.WriteJSON(models.ClientMessage{Type: msgType, Payload: payload}); err != nil {
		t.Fatal(err)
	}
}

// connect dials and consumes the connection_status greeting.
func connect(t *testing.T, env *testEnv) (*websocket.Conn, models.ConnectionStatus) {
	t.Helper()
	conn := dial(t, env, "", nil)
	ev := readEvent(t, conn)
	if ev.Type != models.EventConnectionStatus {
		t.Fatalf("first event = %s, want connection_status", ev.Type)
	}
	var status models.ConnectionStatus
	if err := json.Unmarshal(ev.Data, &status); err != nil {
		t.Fatal(err)
	}
	return conn, status
}

func waitForClients(t *testing.T, hub *WebSocketHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_ConnectionStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	_, a := connect(t, env)
	_, b := connect(t, env)

	if a.Status != "connected" || a.ClientID == "" || a.ClientID == b.ClientID {
		t.Errorf("statuses = %+v, %+v", a, b)
	}
}

func TestWebSocket_HandshakeAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{token: "s3cret"})
	url := "ws" + strings.TrimPrefix(env.wsServer.URL, "http") + "/"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("unauthenticated dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
	if env.hub.ClientCount() != 0 {
		t.Error("rejected client was registered")
	}

	conn := dial(t, env, "?token=s3cret", nil)
	if ev := readEvent(t, conn); ev.Type != models.EventConnectionStatus {
		t.Errorf("first event = %s", ev.Type)
	}
	conn2 := dial(t, env, "", bearer("s3cret"))
	if ev := readEvent(t, conn2); ev.Type != models.EventConnectionStatus {
		t.Errorf("first event = %s", ev.Type)
	}
}

func TestWebSocket_OriginCheck(t *testing.T) {
	env := newTestEnv(t, envOptions{cors: CORSPolicy{Enabled: true, Origins: []string{"http://ok.example"}}})
	url := "ws" + strings.TrimPrefix(env.wsServer.URL, "http") + "/"

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}}); err == nil {
		t.Error("dial from disallowed origin succeeded")
	}
	conn := dial(t, env, "", http.Header{"Origin": {"http://ok.example"}})
	if ev := readEvent(t, conn); ev.Type != models.EventConnectionStatus {
		t.Errorf("first event = %s", ev.Type)
	}
}

func TestWebSocket_SubscriptionFiltering(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	subscribed, _ := connect(t, env)
	other, _ := connect(t, env)

	send(t, subscribed, "subscribe", map[string]interface{}{"type": models.SubDeviceEvents})
	send(t, subscribed, "subscribe", map[string]interface{}{"type": models.SubCommandResults})
	readUntil(t, subscribed, models.EventDeviceList)
	// Round-trip a command so both subscriptions are known to be applied.
	send(t, subscribed, "command", map[string]interface{}{"deviceId": "dev1", "command": "tap", "params": map[string]interface{}{"x": 1, "y": 2}})
	readUntil(t, subscribed, models.EventCommandResult)

	if err := env.dm.UpdateStatus("dev1", models.StatusDisconnected); err != nil {
		t.Fatal(err)
	}
	env.dispatcher.Execute(context.Background(), "dev1", "tap", map[string]interface{}{"x": 1, "y": 1})
	env.hub.Broadcast(models.Event{Type: models.EventConnectionStatus, Data: models.ConnectionStatus{Status: "marker"}})

	ev := readUntil(t, subscribed, models.EventDeviceDisconnected)
	var de models.DeviceEvent
	if err := json.Unmarshal(ev.Data, &de); err != nil || de.Device.ID != "dev1" {
		t.Errorf("device event = %s (%v)", ev.Data, err)
	}
	ev = readUntil(t, subscribed, models.EventCommandResult)
	var cr models.CommandResultEvent
	if err := json.Unmarshal(ev.Data, &cr); err != nil || cr.Result.Success {
		t.Errorf("command result = %s (%v)", ev.Data, err)
	}

	// The unsubscribed client only ever sees the marker.
	if ev := readEvent(t, other); ev.Type != models.EventConnectionStatus {
		t.Errorf("unsubscribed client received %s", ev.Type)
	}
}

func TestWebSocket_ScreenshotStream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, _ := connect(t, env)

	send(t, conn, "subscribe", map[string]interface{}{"type": models.SubScreenshot, "deviceId": "dev1", "interval": 100})
	for i := 0; i < 2; i++ {
		ev := readUntil(t, conn, models.EventScreenshot)
		var shot models.ScreenshotEvent
		if err := json.Unmarshal(ev.Data, &shot); err != nil {
			t.Fatal(err)
		}
		if shot.DeviceID != "dev1" || shot.Error != "" || shot.Image == nil || shot.Image.Format != "png" {
			t.Fatalf("screenshot event = %s", ev.Data)
		}
	}

	conn.Close()
	waitForClients(t, env.hub, 0)
	time.Sleep(150 * time.Millisecond)
	before := env.robot.screenshots.Load()
	time.Sleep(300 * time.Millisecond)
	if after := env.robot.screenshots.Load(); after != before {
		t.Errorf("captures continued after disconnect: %d -> %d", before, after)
	}
}

func readScreenshot(t *testing.T, conn *websocket.Conn) models.ScreenshotEvent {
	t.Helper()
	ev := readUntil(t, conn, models.EventScreenshot)
	var shot models.ScreenshotEvent
	if err := json.Unmarshal(ev.Data, &shot); err != nil {
		t.Fatal(err)
	}
	return shot
}

func TestWebSocket_ScreenshotFailureKeepsStreaming(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, _ := connect(t, env)

	send(t, conn, "subscribe", map[string]interface{}{"type": models.SubScreenshot, "deviceId": "dev1", "interval": 100})
	if shot := readScreenshot(t, conn); shot.Image == nil {
		t.Fatalf("first frame = %+v, want image", shot)
	}

	if err := env.dm.UpdateStatus("dev1", models.StatusDisconnected); err != nil {
		t.Fatal(err)
	}
	var failed models.ScreenshotEvent
	for i := 0; i < 10; i++ {
		if failed = readScreenshot(t, conn); failed.Image == nil {
			break
		}
	}
	if failed.DeviceID != "dev1" || failed.Error != "Screenshot failed" || failed.Message != "Device dev1 is disconnected" || failed.Image != nil {
		t.Fatalf("failure frame = %+v", failed)
	}

	if err := env.dm.UpdateStatus("dev1", models.StatusConnected); err != nil {
		t.Fatal(err)
	}
	var healed models.ScreenshotEvent
	for i := 0; i < 10; i++ {
		if healed = readScreenshot(t, conn); healed.Image != nil {
			break
		}
	}
	if healed.Image == nil || healed.Error != "" || healed.Message != "" {
		t.Errorf("stream did not recover: %+v", healed)
	}
}

func waitForPolling(t *testing.T, env *testEnv, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for env.dir.Polling() != want {
		if time.Now().After(deadline) {
			t.Fatalf("directory polling = %v, want %v", !want, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_DeviceEventsWatcherReleased(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	// Disconnect releases the watcher.
	conn, _ := connect(t, env)
	send(t, conn, "subscribe", map[string]interface{}{"type": models.SubDeviceEvents})
	readUntil(t, conn, models.EventDeviceList)
	waitForPolling(t, env, true)

	conn.Close()
	waitForClients(t, env.hub, 0)
	waitForPolling(t, env, false)

	// So does unsubscribe, while the socket stays open.
	conn, _ = connect(t, env)
	send(t, conn, "subscribe", map[string]interface{}{"type": models.SubDeviceEvents})
	readUntil(t, conn, models.EventDeviceList)
	waitForPolling(t, env, true)

	send(t, conn, "unsubscribe", map[string]interface{}{"type": models.SubDeviceEvents})
	waitForPolling(t, env, false)
}

func TestScreenshotInterval(t *testing.T) {
	tests := []struct {
		in   interface{}
		want time.Duration
	}{
		{nil, defaultScreenshotInterval},
		{"250", defaultScreenshotInterval},
		{-5.0, defaultScreenshotInterval},
		{10.0, minScreenshotInterval},
		{250.0, 250 * time.Millisecond},
		{1.5e13, maxScreenshotInterval},
		{1e300, maxScreenshotInterval},
	}
	for _, tt := range tests {
		if got := screenshotInterval(tt.in); got != tt.want {
			t.Errorf("screenshotInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWebSocket_ScreenshotUnknownDevice(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, _ := connect(t, env)

	send(t, conn, "subscribe", map[string]interface{}{"type": models.SubScreenshot, "deviceId": "ghost"})
	ev := readUntil(t, conn, models.EventScreenshot)
	var shot models.ScreenshotEvent
	if err := json.Unmarshal(ev.Data, &shot); err != nil {
		t.Fatal(err)
	}
	if shot.DeviceID != "ghost" || shot.Error != "Device not found" || shot.Message != "Device not found: ghost" {
		t.Errorf("event = %s", ev.Data)
	}
}

func TestWebSocket_UnsubscribeStopsScreenshots(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, _ := connect(t, env)

	send(t, conn, "subscribe", map[string]interface{}{"type": models.SubScreenshot, "deviceId": "dev1", "interval": 100})
	readUntil(t, conn, models.EventScreenshot)
	send(t, conn, "unsubscribe", map[string]interface{}{"type": models.SubScreenshot})

	time.Sleep(150 * time.Millisecond)
	before := env.robot.screenshots.Load()
	time.Sleep(300 * time.Millisecond)
	if after := env.robot.screenshots.Load(); after != before {
		t.Errorf("captures continued after unsubscribe: %d -> %d", before, after)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn, _ := connect(t, env)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != models.EventError {
		t.Errorf("event = %s, want error", ev.Type)
	}
	send(t, conn, "dance", nil)
	if ev := readEvent(t, conn); ev.Type != models.EventError {
		t.Errorf("event = %s, want error", ev.Type)
	}
}
