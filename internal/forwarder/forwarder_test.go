package forwarder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu      sync.Mutex
	queries []url.Values
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.queries = append(c.queries, r.URL.Query())
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestForwarder_RelaysParamsToEveryURL(t *testing.T) {
	okCap := &capture{}
	ok := httptest.NewServer(okCap.handler(http.StatusOK))
	defer ok.Close()
	failCap := &capture{}
	failing := httptest.NewServer(failCap.handler(http.StatusInternalServerError))
	defer failing.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := New(Config{Workers: 2, QueueSize: 8, Timeout: time.Second}, nil)
	f.Start(ctx)

	params := url.Values{"eml": {"a@b.com"}, "kff1005": {"12.34", "12.34"}, "kc": {"3000"}}
	f.Forward([]string{ok.URL + "/in?token=abc", failing.URL}, params)

	waitFor(t, func() bool { return okCap.len() == 1 && failCap.len() == 1 })
	waitFor(t, func() bool { s := f.Stats(); return s.Sent == 1 && s.Failed == 1 })

	got := okCap.queries[0]
	if got.Get("token") != "abc" || got.Get("eml") != "a@b.com" || got.Get("kc") != "3000" {
		t.Fatalf("unexpected forwarded query: %v", got)
	}
	if len(got["kff1005"]) != 2 {
		t.Fatalf("expected raw multi-value params relayed, got %v", got["kff1005"])
	}

	cancel()
	f.Wait()
}

func TestForwarder_ForwardNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer slow.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(Config{Workers: 1, QueueSize: 1, Timeout: 5 * time.Second}, nil)
	f.Start(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.Forward([]string{slow.URL}, url.Values{"i": {"x"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Forward blocked on a slow target")
	}
	if f.Stats().Dropped == 0 {
		t.Fatalf("expected dropped jobs with a full queue")
	}
}

func TestForwarder_TimeoutCountsAsFailure(t *testing.T) {
	block := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := New(Config{Workers: 1, QueueSize: 4, Timeout: 50 * time.Millisecond}, nil)
	f.Start(ctx)

	f.Forward([]string{slow.URL}, nil)
	waitFor(t, func() bool { return f.Stats().Failed == 1 })
}

func TestBuildURL(t *testing.T) {
	got, err := buildURL("https://example.com/hook?x=1", url.Values{"kc": {"3000"}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if got != "https://example.com/hook?kc=3000&x=1" {
		t.Fatalf("unexpected url %s", got)
	}
	if _, err := buildURL("ftp://example.com", nil); err == nil {
		t.Fatalf("expected scheme error")
	}
}
