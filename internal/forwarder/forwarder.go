package forwarder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

type job struct {
	target string
	params url.Values
}

// Forwarder relays raw upload parameters to account webhook URLs. Callers
// never wait on it: jobs are queued and sent by a fixed worker pool.
type Forwarder struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	queue  chan job

	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
	sent    atomic.Int64
}

func New(cfg Config, logger *slog.Logger) *Forwarder {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
	}
}

// Start launches the workers. They exit when ctx is done; Wait blocks
// until they have.
func (f *Forwarder) Start(ctx context.Context) {
	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-f.queue:
					f.send(ctx, j)
				}
			}
		}()
	}
}

func (f *Forwarder) Wait() { f.wg.Wait() }

// Forward queues one job per URL. A full queue drops the job.
func (f *Forwarder) Forward(urls []string, params url.Values) {
	for _, target := range urls {
		if target == "" {
			continue
		}
		select {
		case f.queue <- job{target: target, params: cloneParams(params)}:
		default:
			f.dropped.Add(1)
			f.logger.Warn("forward queue full, dropping", "url", target)
		}
	}
}

func (f *Forwarder) send(ctx context.Context, j job) {
	if err := f.do(ctx, j); err != nil {
		f.failed.Add(1)
		f.logger.Warn("forward error", "url", j.target, "error", err)
		return
	}
	f.sent.Add(1)
}

func (f *Forwarder) do(ctx context.Context, j job) error {
	target, err := buildURL(j.target, j.params)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

func (f *Forwarder) Stats() Stats {
	return Stats{
		Sent:    f.sent.Load(),
		Failed:  f.failed.Load(),
		Dropped: f.dropped.Load(),
		Queued:  len(f.queue),
	}
}

// buildURL appends params to whatever query the target already carries.
func buildURL(target string, params url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse forward url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported forward url scheme %q", u.Scheme)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func cloneParams(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, vs := range params {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
