package socketio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"torquedash/internal/hub"
)

const (
	maxPayload   int64         = 1000000
	writeTimeout time.Duration = 10 * time.Second

	pingInterval = 25 * time.Second
	pingTimeout  = 20 * time.Second
)

type Deps struct {
	Hub    *hub.Hub
	Logger *slog.Logger
}

// Server speaks Engine.IO v4 / Socket.IO over websocket only. Viewers join
// session and dashboard rooms; rooms are hub channels.
type Server struct {
	hub    *hub.Hub
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    deps.Hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer s.unregisterConn(c)

	open := map[string]any{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": pingInterval.Milliseconds(),
		"pingTimeout":  pingTimeout.Milliseconds(),
		"maxPayload":   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	_ = c.writeText(string(engineOpen) + string(openBytes))

	go c.pingLoop()
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

// Connections reports the number of open engine connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) unregisterConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.hub.Remove(c)
	c.close()
	s.logger.Debug("socket disconnected", "sid", c.sid)
}

func (s *Server) handleMessage(c *conn, msg string) {
	if msg == "" {
		return
	}

	switch enginePacketType(msg[0]) {
	case enginePong:
		c.markPong()
	case enginePing:
		_ = c.writeText(string(enginePong) + msg[1:])
	case engineMessage:
		s.handleSocketPayload(c, msg[1:])
	case engineClose:
		c.close()
	}
}

func (s *Server) handleSocketPayload(c *conn, payload string) {
	if payload == "" {
		return
	}

	switch socketPacketType(payload[0]) {
	case socketConnect:
		s.handleConnect(c, payload)
	case socketDisconnect:
		s.hub.Remove(c)
		c.connected.Store(false)
	case socketEvent:
		s.handleEvent(c, payload)
	}
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}
	ns, _ := parseOptionalNamespace(payload[1:])
	if ns != "/" {
		_ = c.writeSocketError(ns, "Invalid namespace")
		return
	}

	c.connected.Store(true)
	packet, err := buildSocketConnectPacket(ns, c.sid)
	if err != nil {
		return
	}
	_ = c.writeText(string(engineMessage) + packet)
	s.logger.Debug("socket connected", "sid", c.sid)
}

func (s *Server) handleEvent(c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := parseSocketEventPacket(payload)
	if err != nil {
		return
	}

	switch pkt.Event {
	case "ping":
		if pkt.ID != nil {
			ackPayload, err := buildSocketAckPacket(pkt.Namespace, *pkt.ID)
			if err == nil {
				_ = c.writeText(string(engineMessage) + ackPayload)
			}
		}

	case "join-session", "join-dashboard", "leave-session", "leave-dashboard":
		id, ok := roomArg(pkt.Args)
		if !ok {
			return
		}
		channel := hub.SessionChannel(id)
		if pkt.Event == "join-dashboard" || pkt.Event == "leave-dashboard" {
			channel = hub.DashboardChannel(id)
		}
		if strings.HasPrefix(pkt.Event, "join-") {
			s.hub.Subscribe(c, channel)
			s.logger.Debug("socket joined", "sid", c.sid, "channel", channel)
		} else {
			s.hub.Unsubscribe(c, channel)
		}
		if pkt.ID != nil {
			ackPayload, err := buildSocketAckPacket(pkt.Namespace, *pkt.ID, gin.H{"ok": true, "channel": channel})
			if err == nil {
				_ = c.writeText(string(engineMessage) + ackPayload)
			}
		}
	}
}

// roomArg accepts the room id as a JSON string or number.
func roomArg(args []json.RawMessage) (string, bool) {
	if len(args) < 1 {
		return "", false
	}
	var v any
	if err := json.Unmarshal(args[0], &v); err != nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}

type conn struct {
	ws *websocket.Conn

	sid string

	connected atomic.Bool

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:         ws,
		sid:        uuid.NewString(),
		nextPingAt: time.Now().Add(pingInterval),
	}
}

// Deliver emits a hub message as a Socket.IO event on the default namespace.
func (c *conn) Deliver(msg hub.Message) error {
	packet, err := buildSocketEventPacket("/", nil, msg.Event, msg.Body)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + packet)
}

func (c *conn) Close() error {
	c.close()
	return nil
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > pingTimeout {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(pingInterval)
			c.pingMu.Unlock()
			_ = c.writeText(string(enginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}

func (c *conn) writeSocketError(namespace, msg string) error {
	packet, err := buildSocketConnectErrorPacket(namespace, msg)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + packet)
}
