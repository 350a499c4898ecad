package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix   = "session-"
	dashboardPrefix = "dashboard-"

	redisChannelPrefix = "torquedash:channel:"

	DefaultQueueSize = 64
)

func SessionChannel(token string) string { return sessionPrefix + token }

func DashboardChannel(id string) string { return dashboardPrefix + id }

// Message is one published event. Body is already JSON encoded so every
// subscriber sees the same bytes.
type Message struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Body    json.RawMessage `json:"body"`
}

// Subscriber is a viewer connection. Deliver runs on the subscriber's own
// writer goroutine; a Deliver error drops the subscriber from every
// channel.
type Subscriber interface {
	Deliver(msg Message) error
	Close() error
}

type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[Subscriber]struct{}
	joined   map[Subscriber]map[string]struct{}
	outboxes map[Subscriber]*outbox

	// publishMu keeps enqueue order equal to Publish call order. It is
	// never held across a Deliver.
	publishMu sync.Mutex
	queueSize int

	instanceID string
	redis      *redis.Client
	logger     *slog.Logger
}

type Option func(*Hub)

// WithRedis relays every local publish through Redis so viewers attached
// to other instances receive it too.
func WithRedis(client *redis.Client) Option {
	return func(h *Hub) { h.redis = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithQueueSize bounds each subscriber's pending messages. A subscriber
// whose queue is full is closed and dropped.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// outbox is a subscriber's pending messages and the goroutine writing them.
type outbox struct {
	sub   Subscriber
	queue chan Message
	done  chan struct{}
	once  sync.Once
}

func (o *outbox) stop() {
	o.once.Do(func() { close(o.done) })
}

func New(opts ...Option) *Hub {
	h := &Hub{
		channels:   make(map[string]map[Subscriber]struct{}),
		joined:     make(map[Subscriber]map[string]struct{}),
		outboxes:   make(map[Subscriber]*outbox),
		queueSize:  DefaultQueueSize,
		instanceID: uuid.NewString(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Subscribe(sub Subscriber, channel string) {
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[Subscriber]struct{})
	}
	h.channels[channel][sub] = struct{}{}
	if h.joined[sub] == nil {
		h.joined[sub] = make(map[string]struct{})
	}
	h.joined[sub][channel] = struct{}{}

	if _, ok := h.outboxes[sub]; !ok {
		ob := &outbox{sub: sub, queue: make(chan Message, h.queueSize), done: make(chan struct{})}
		h.outboxes[sub] = ob
		go h.drain(ob)
	}
}

func (h *Hub) Unsubscribe(sub Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(sub, channel)
}

func (h *Hub) unsubscribeLocked(sub Subscriber, channel string) {
	if set := h.channels[channel]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.channels, channel)
		}
	}
	if chans := h.joined[sub]; chans != nil {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.joined, sub)
			if ob := h.outboxes[sub]; ob != nil {
				ob.stop()
				delete(h.outboxes, sub)
			}
		}
	}
}

// Remove drops sub from every channel it joined.
func (h *Hub) Remove(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range h.joined[sub] {
		h.unsubscribeLocked(sub, channel)
	}
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Publish encodes payload once and queues it for every current subscriber
// of channel. It never waits on a subscriber's connection. There is no
// acknowledgement and no replay.
func (h *Hub) Publish(ctx context.Context, channel, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := Message{Channel: channel, Event: event, Body: body}

	h.deliver(msg)

	if h.redis != nil {
		h.relay(ctx, msg)
	}
	return nil
}

func (h *Hub) deliver(msg Message) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.RLock()
	set := h.channels[msg.Channel]
	boxes := make([]*outbox, 0, len(set))
	for s := range set {
		if ob := h.outboxes[s]; ob != nil {
			boxes = append(boxes, ob)
		}
	}
	h.mu.RUnlock()

	for _, ob := range boxes {
		select {
		case ob.queue <- msg:
		default:
			h.logger.Warn("subscriber queue full, dropping", "channel", msg.Channel)
			h.drop(ob.sub)
		}
	}
}

func (h *Hub) drain(ob *outbox) {
	for {
		select {
		case <-ob.done:
			return
		default:
		}
		select {
		case <-ob.done:
			return
		case msg := <-ob.queue:
			if err := ob.sub.Deliver(msg); err != nil {
				h.drop(ob.sub)
				return
			}
		}
	}
}

func (h *Hub) drop(sub Subscriber) {
	h.Remove(sub)
	_ = sub.Close()
}

type envelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

func (h *Hub) relay(ctx context.Context, msg Message) {
	data, err := json.Marshal(envelope{Origin: h.instanceID, Message: msg})
	if err != nil {
		h.logger.Error("encode relay message", "channel", msg.Channel, "error", err)
		return
	}
	if err := h.redis.Publish(ctx, redisChannelPrefix+msg.Channel, data).Err(); err != nil {
		h.logger.Warn("relay publish failed", "channel", msg.Channel, "error", err)
	}
}

// Run consumes publishes from other instances until ctx is done. It is a
// no-op without a Redis client. ready, if non-nil, is closed once the
// subscription is confirmed.
func (h *Hub) Run(ctx context.Context, ready chan<- struct{}) error {
	if h.redis == nil {
		if ready != nil {
			close(ready)
		}
		<-ctx.Done()
		return nil
	}

	pubsub := h.redis.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				h.logger.Warn("drop malformed relay message", "channel", m.Channel, "error", err)
				continue
			}
			if env.Origin == h.instanceID {
				continue
			}
			h.deliver(env.Message)
		}
	}
}
