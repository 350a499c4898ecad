package livecache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Entry is the most recent live-only reading of one session. Timestamp is
// the arrival time in epoch milliseconds and drives expiry.
type Entry struct {
	SessionID    string            `json:"sessionId"`
	Timestamp    int64             `json:"timestamp"`
	RecordedAt   string            `json:"recordedAt"`
	Lon          string            `json:"lon"`
	Lat          string            `json:"lat"`
	Values       map[string]string `json:"values"`
	AccountID    string            `json:"userId"`
	Email        string            `json:"email"`
	LiveOnlyMode bool              `json:"liveOnlyMode"`
	ModeSource   string            `json:"modeSource"`
}

type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put overwrites the entry for entry.SessionID. A zero Timestamp is
// stamped with the current clock.
func (c *Cache) Put(entry Entry) {
	if entry.Timestamp == 0 {
		entry.Timestamp = c.now().UnixMilli()
	}
	entry.Values = cloneValues(entry.Values)

	c.mu.Lock()
	c.entries[entry.SessionID] = entry
	c.mu.Unlock()
}

func (c *Cache) Get(sessionID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return Entry{}, false
	}
	entry.Values = cloneValues(entry.Values)
	return entry, true
}

// List returns every cached entry in no particular order.
func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entry.Values = cloneValues(entry.Values)
		result = append(result, entry)
	}
	return result
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Now is the cache clock, exposed so listings can report entry age.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Sweep removes entries that arrived before now-ttl and reports how many
// were dropped.
func (c *Cache) Sweep(now time.Time) int {
	cutoff := now.Add(-c.ttl).UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, entry := range c.entries {
		if entry.Timestamp < cutoff {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				c.logger.Debug("live cache sweep", "removed", n, "remaining", c.Len())
			}
		}
	}
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
