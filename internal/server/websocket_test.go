package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"torquedash/internal/hub"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Body    json.RawMessage `json:"body"`
}

func readFrame(t *testing.T, c *websocket.Conn) wsFrame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := c.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func TestWebSocket_DashboardAndSessionChannels(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "join-dashboard", "id": "D1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "ack" || f.Channel != hub.DashboardChannel("D1") {
		t.Fatalf("unexpected ack %+v", f)
	}
	if err := conn.WriteJSON(map[string]string{"type": "join-session", "id": "S1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if f := readFrame(t, conn); f.Type != "ack" || f.Channel != hub.SessionChannel("S1") {
		t.Fatalf("unexpected ack %+v", f)
	}

	resp, err := http.Get(srv.URL + uploadQuery)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()

	f := readFrame(t, conn)
	if f.Type != "event" || f.Event != "sensor-data" || f.Channel != "session-S1" {
		t.Fatalf("unexpected event frame %+v", f)
	}
	var body map[string]any
	if err := json.Unmarshal(f.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body["sessionId"] != "S1" || body["lat"] != "41.2" {
		t.Fatalf("unexpected body %v", body)
	}

	if err := conn.WriteJSON(map[string]string{"type": "leave-session", "id": "S1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	_ = readFrame(t, conn)
	if n := env.hub.Subscribers(hub.SessionChannel("S1")); n != 0 {
		t.Fatalf("expected no subscribers after leave, got %d", n)
	}
	if n := env.hub.Subscribers(hub.DashboardChannel("D1")); n != 1 {
		t.Fatalf("dashboard subscription should remain, got %d", n)
	}
}
