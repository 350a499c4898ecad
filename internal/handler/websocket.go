package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"torquedash/internal/hub"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
)

// WebSocketHandler serves viewers that speak plain JSON frames instead of
// Socket.IO. Subscriptions go through the same hub.
type WebSocketHandler struct {
	Hub    *hub.Hub
	Logger *slog.Logger
}

type clientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type serverMessage struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) write(msg serverMessage) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, out)
}

func (s *wsSubscriber) Deliver(msg hub.Message) error {
	return s.write(serverMessage{Type: "event", Event: msg.Event, Channel: msg.Channel, Body: msg.Body})
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sub := &wsSubscriber{conn: ws}
	defer func() {
		h.Hub.Remove(sub)
		_ = ws.Close()
	}()

	ws.SetReadLimit(64 * 1024)
	pingPeriod := (wsPongWait * 9) / 10

	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sub.mu.Lock()
				err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				sub.mu.Unlock()
				if err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			_ = sub.write(serverMessage{Type: "pong"})
		case "join-session", "join-dashboard", "leave-session", "leave-dashboard":
			if msg.ID == "" {
				_ = sub.write(serverMessage{Type: "error", Error: "missing id"})
				continue
			}
			channel := channelFor(msg.Type, msg.ID)
			switch msg.Type {
			case "join-session", "join-dashboard":
				h.Hub.Subscribe(sub, channel)
				logger(h.Logger).Debug("ws joined", "channel", channel)
			default:
				h.Hub.Unsubscribe(sub, channel)
			}
			_ = sub.write(serverMessage{Type: "ack", Channel: channel})
		}
	}
}

func channelFor(msgType, id string) string {
	if msgType == "join-dashboard" || msgType == "leave-dashboard" {
		return hub.DashboardChannel(id)
	}
	return hub.SessionChannel(id)
}
