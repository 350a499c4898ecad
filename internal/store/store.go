package store

import (
	"context"
	"errors"
	"strings"

	"torquedash/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate telemetry record")
	ErrAccountExists = errors.New("account already exists")
)

// Store is the durable side of the pipeline: the account directory, the
// session registry and the telemetry record store.
//
// FindOrCreateSession must converge concurrent creators for the same token
// on a single row. AppendRecord inserts the record and overwrites the
// owning session's latest-data snapshot as one unit; if a record already
// exists for (session, timestamp) it returns ErrDuplicate and changes
// nothing.
type Store interface {
	AccountByEmail(ctx context.Context, email string) (model.Account, error)
	AccountByID(ctx context.Context, id string) (model.Account, error)
	AccountByShareID(ctx context.Context, shareID string) (model.Account, error)
	CreateAccount(ctx context.Context, acc model.Account) (model.Account, error)
	UpdateAccount(ctx context.Context, acc model.Account) error

	FindOrCreateSession(ctx context.Context, token, accountID string, nowMillis int64) (model.Session, bool, error)
	UpdateLatest(ctx context.Context, sessionID string, latest model.LatestData, nowMillis int64) error
	SessionByToken(ctx context.Context, token string) (model.Session, error)
	ListSessions(ctx context.Context, accountID string) ([]model.Session, error)
	DeleteSession(ctx context.Context, accountID, token string) error

	RecordExists(ctx context.Context, sessionID, timestamp string) (bool, error)
	AppendRecord(ctx context.Context, rec model.TelemetryRecord, nowMillis int64) (model.TelemetryRecord, error)
	ListRecords(ctx context.Context, sessionID string, limit int) ([]model.TelemetryRecord, error)
	CountRecords(ctx context.Context, sessionID string) (int, error)

	Close() error
}

const defaultRecordLimit = 10000

// Open picks a backend from a database URL: "memory", a postgres:// URL,
// or anything else as a SQLite file path.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case databaseURL == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)
	default:
		return OpenSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	}
}

func latestFromRecord(rec model.TelemetryRecord) model.LatestData {
	return model.LatestData{
		Timestamp: rec.Timestamp,
		Lon:       rec.Lon,
		Lat:       rec.Lat,
		Values:    cloneValues(rec.Values),
	}
}

func cloneValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func recordLimit(limit int) int {
	if limit <= 0 || limit > defaultRecordLimit {
		return defaultRecordLimit
	}
	return limit
}
