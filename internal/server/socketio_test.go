package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"torquedash/internal/hub"
)

func waitForPrefix(t *testing.T, c *websocket.Conn, prefix string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, data, err := c.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.Fatalf("ReadMessage: %v", err)
		}
		msg := string(data)
		if msg == "2" {
			_ = c.WriteMessage(websocket.TextMessage, []byte("3"))
			continue
		}
		if strings.HasPrefix(msg, prefix) {
			_ = c.SetReadDeadline(time.Time{})
			return msg
		}
	}
	t.Fatalf("timeout waiting for %q", prefix)
	return ""
}

func dialSocketIO(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	open := waitForPrefix(t, conn, "0{", 2*time.Second)
	if !strings.Contains(open, "\"pingInterval\"") {
		t.Fatalf("unexpected open packet: %s", open)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		t.Fatalf("WriteMessage(connect): %v", err)
	}
	_ = waitForPrefix(t, conn, "40{", 2*time.Second)
	return conn
}

func TestSocketIO_JoinSessionReceivesSensorData(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialSocketIO(t, srv)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`421["ping"]`)); err != nil {
		t.Fatalf("WriteMessage(ping): %v", err)
	}
	if ack := waitForPrefix(t, conn, "431", 2*time.Second); ack != "431[]" {
		t.Fatalf("unexpected ping ack %s", ack)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`422["join-session","S1"]`)); err != nil {
		t.Fatalf("WriteMessage(join): %v", err)
	}
	ack := waitForPrefix(t, conn, "432", 2*time.Second)
	if !strings.Contains(ack, `"channel":"session-S1"`) {
		t.Fatalf("unexpected join ack %s", ack)
	}
	if n := env.hub.Subscribers(hub.SessionChannel("S1")); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	resp, err := http.Get(srv.URL + uploadQuery)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected upload 200, got %d", resp.StatusCode)
	}

	event := waitForPrefix(t, conn, `42["sensor-data"`, 2*time.Second)
	for _, want := range []string{`"sessionId":"S1"`, `"timestamp":"2023-11-14 22:13:20"`, `"lon":"12.5"`, `"kc":"3000"`} {
		if !strings.Contains(event, want) {
			t.Fatalf("event %s missing %s", event, want)
		}
	}
}

func TestSocketIO_RejectsUnknownNamespace(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = waitForPrefix(t, conn, "0{", 2*time.Second)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("40/admin,")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if msg := waitForPrefix(t, conn, "44/admin,", 2*time.Second); !strings.Contains(msg, "Invalid namespace") {
		t.Fatalf("unexpected connect error %s", msg)
	}
}
