package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"torquedash/internal/hub"
	"torquedash/internal/livecache"
	"torquedash/internal/model"
	"torquedash/internal/store"
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrMissingSession = errors.New("missing session token")
	ErrInvalidTime    = errors.New("invalid time")
)

const SensorDataEvent = "sensor-data"

type Status int

const (
	StatusDiscarded Status = iota
	StatusStored
	StatusLive
	StatusDuplicate
)

type LiveSource string

const (
	LiveSourceGlobal LiveSource = "global"
	LiveSourceUser   LiveSource = "user"
)

type Result struct {
	Status     Status
	LiveSource LiveSource
	Session    model.Session
	Timestamp  string
}

// Message is the short acknowledgement the Torque client gets back.
func (r Result) Message() string {
	switch r.Status {
	case StatusDuplicate:
		return "Duplicate entry."
	case StatusLive:
		return fmt.Sprintf("OK! [LIVE-ONLY %s - NO LOGS SAVED]", upper(r.LiveSource))
	default:
		return "OK!"
	}
}

func upper(s LiveSource) string {
	if s == LiveSourceGlobal {
		return "GLOBAL"
	}
	return "USER"
}

// SensorData is the payload broadcast on a session channel.
type SensorData struct {
	SessionID string            `json:"sessionId"`
	Timestamp string            `json:"timestamp"`
	Lon       string            `json:"lon"`
	Lat       string            `json:"lat"`
	Values    map[string]string `json:"values"`
}

type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

type Forwarder interface {
	Forward(urls []string, params url.Values)
}

type Config struct {
	// LiveOnlyMode is the process-wide toggle; it is OR'ed with the
	// account flag on every reading.
	LiveOnlyMode bool
	Location     *time.Location
}

type Deps struct {
	Store     store.Store
	Live      *livecache.Cache
	Publisher Publisher
	Forwarder Forwarder
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	cfg       Config
	store     store.Store
	live      *livecache.Cache
	publisher Publisher
	forwarder Forwarder
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		live:      deps.Live,
		publisher: deps.Publisher,
		forwarder: deps.Forwarder,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.live == nil {
		s.live = livecache.New()
	}
	return s
}

func (s *Service) LiveOnlyMode() bool { return s.cfg.LiveOnlyMode }

// RunSweeper expires stale live cache entries until ctx is done. It runs in
// both modes since accounts can be live-only while the global toggle is off.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	s.live.Run(ctx, interval)
}

// Ingest runs one reading through the pipeline. Discarded, live and
// duplicate readings are results, not errors.
func (s *Service) Ingest(ctx context.Context, r Reading) (Result, error) {
	if !r.HasPosition {
		return Result{Status: StatusDiscarded}, nil
	}

	if r.Email == "" {
		return Result{}, ErrUnknownAccount
	}
	acc, err := s.store.AccountByEmail(ctx, r.Email)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrUnknownAccount
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup account: %w", err)
	}

	if r.Session == "" {
		return Result{}, ErrMissingSession
	}
	ts, err := NormalizeTimestamp(r.Time, s.cfg.Location)
	if err != nil {
		return Result{}, err
	}

	liveOnly := s.cfg.LiveOnlyMode || acc.LiveOnlyMode

	if len(acc.ForwardURLs) > 0 && s.forwarder != nil {
		s.forwarder.Forward(acc.ForwardURLs, r.Raw)
	}

	now := s.now()
	sess, created, err := s.store.FindOrCreateSession(ctx, r.Session, acc.ID, now.UnixMilli())
	if err != nil {
		return Result{}, fmt.Errorf("resolve session: %w", err)
	}
	if created {
		s.logger.Info("session created", "session", r.Session, "account", acc.Email)
	}

	data := SensorData{
		SessionID: r.Session,
		Timestamp: ts,
		Lon:       r.Lon,
		Lat:       r.Lat,
		Values:    r.Values,
	}

	if liveOnly {
		return s.ingestLive(ctx, acc, sess, data, now)
	}
	return s.ingestDurable(ctx, sess, data, now)
}

func (s *Service) ingestLive(ctx context.Context, acc model.Account, sess model.Session, data SensorData, now time.Time) (Result, error) {
	source := LiveSourceUser
	if s.cfg.LiveOnlyMode {
		source = LiveSourceGlobal
	}
	s.logger.Debug("live-only reading", "source", source, "session", data.SessionID, "account", acc.Email)

	latest := model.LatestData{Timestamp: data.Timestamp, Lon: data.Lon, Lat: data.Lat, Values: data.Values}
	if err := s.store.UpdateLatest(ctx, sess.ID, latest, now.UnixMilli()); err != nil {
		return Result{}, fmt.Errorf("update latest: %w", err)
	}
	sess.Latest = latest
	sess.UpdatedAt = now.UnixMilli()

	s.live.Put(livecache.Entry{
		SessionID:    data.SessionID,
		Timestamp:    now.UnixMilli(),
		RecordedAt:   data.Timestamp,
		Lon:          data.Lon,
		Lat:          data.Lat,
		Values:       data.Values,
		AccountID:    acc.ID,
		Email:        acc.Email,
		LiveOnlyMode: true,
		ModeSource:   string(source),
	})

	s.broadcast(ctx, data)
	return Result{Status: StatusLive, LiveSource: source, Session: sess, Timestamp: data.Timestamp}, nil
}

func (s *Service) ingestDurable(ctx context.Context, sess model.Session, data SensorData, now time.Time) (Result, error) {
	exists, err := s.store.RecordExists(ctx, sess.ID, data.Timestamp)
	if err != nil {
		return Result{}, fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return Result{Status: StatusDuplicate, Session: sess, Timestamp: data.Timestamp}, nil
	}

	_, err = s.store.AppendRecord(ctx, model.TelemetryRecord{
		SessionID: sess.ID,
		Timestamp: data.Timestamp,
		Lon:       data.Lon,
		Lat:       data.Lat,
		Values:    data.Values,
	}, now.UnixMilli())
	if errors.Is(err, store.ErrDuplicate) {
		return Result{Status: StatusDuplicate, Session: sess, Timestamp: data.Timestamp}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("append record: %w", err)
	}
	sess.Latest = model.LatestData{Timestamp: data.Timestamp, Lon: data.Lon, Lat: data.Lat, Values: data.Values}
	sess.UpdatedAt = now.UnixMilli()

	s.broadcast(ctx, data)
	return Result{Status: StatusStored, Session: sess, Timestamp: data.Timestamp}, nil
}

func (s *Service) broadcast(ctx context.Context, data SensorData) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, hub.SessionChannel(data.SessionID), SensorDataEvent, data); err != nil {
		s.logger.Warn("broadcast failed", "session", data.SessionID, "error", err)
	}
}
