package livecache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCache_PutOverwrites(t *testing.T) {
	c := New()
	c.Put(Entry{SessionID: "S1", Timestamp: 1, Values: map[string]string{"kc": "1000"}})
	c.Put(Entry{SessionID: "S1", Timestamp: 2, Values: map[string]string{"kc": "2000"}})

	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	got, ok := c.Get("S1")
	if !ok {
		t.Fatalf("expected entry")
	}
	if got.Values["kc"] != "2000" || got.Timestamp != 2 {
		t.Fatalf("expected latest entry, got %+v", got)
	}

	got.Values["kc"] = "mutated"
	again, _ := c.Get("S1")
	if again.Values["kc"] != "2000" {
		t.Fatalf("cache leaked its values map")
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected absent entry")
	}
}

func TestCache_PutStampsArrival(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := New(WithClock(func() time.Time { return now }))
	c.Put(Entry{SessionID: "S1"})

	got, _ := c.Get("S1")
	if got.Timestamp != now.UnixMilli() {
		t.Fatalf("expected arrival %d, got %d", now.UnixMilli(), got.Timestamp)
	}
}

func TestCache_SweepExpiresStaleEntries(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	c := New()
	c.Put(Entry{SessionID: "old", Timestamp: base.Add(-6 * time.Minute).UnixMilli()})
	c.Put(Entry{SessionID: "fresh", Timestamp: base.Add(-1 * time.Minute).UnixMilli()})

	if n := c.Sweep(base); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	list := c.List()
	if len(list) != 1 || list[0].SessionID != "fresh" {
		t.Fatalf("unexpected entries after sweep: %+v", list)
	}
}

func TestCache_RunSweepsOnInterval(t *testing.T) {
	var mu sync.Mutex
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	c := New(WithClock(clock))
	c.Put(Entry{SessionID: "S1"})

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("entry was not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(Entry{SessionID: "S1", Timestamp: int64(i + 1), Values: map[string]string{"i": "x"}})
			_ = c.List()
			_, _ = c.Get("S1")
		}(i)
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Fatalf("expected single overwritten entry, got %d", c.Len())
	}
}
