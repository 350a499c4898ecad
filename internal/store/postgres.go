package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"torquedash/internal/model"
)

// Querier is the subset of *pgxpool.Pool the Postgres backend uses.
// pgxmock pools satisfy it too.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const pgUniqueViolation = "23505"

var (
	newPoolFn  = pgxpool.New
	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

type PostgresStore struct {
	db    Querier
	close func()
}

// OpenPostgres connects a pool, pings it and applies the schema.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgres(pool)
	s.close = pool.Close
	if err := s.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	return s, nil
}

func NewPostgres(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			live_only_mode BOOLEAN NOT NULL DEFAULT FALSE,
			forward_urls JSONB NOT NULL DEFAULT '[]',
			share_id TEXT UNIQUE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			start_location TEXT NOT NULL,
			end_location TEXT NOT NULL,
			latest_data JSONB NOT NULL DEFAULT '{}',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id);
		CREATE TABLE IF NOT EXISTS telemetry_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			timestamp TEXT NOT NULL,
			lon TEXT NOT NULL,
			lat TEXT NOT NULL,
			sensor_values JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE (session_id, timestamp)
		);
	`)
	return err
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) AccountByEmail(ctx context.Context, email string) (model.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	return acc, pgNotFound(err)
}

func (s *PostgresStore) AccountByID(ctx context.Context, id string) (model.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	return acc, pgNotFound(err)
}

func (s *PostgresStore) AccountByShareID(ctx context.Context, shareID string) (model.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE share_id = $1`, shareID))
	return acc, pgNotFound(err)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, acc.ID, acc.Email, acc.LiveOnlyMode, encodeForwardURLs(acc.ForwardURLs), acc.ShareID, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if isPgUnique(err) {
			return model.Account{}, ErrAccountExists
		}
		return model.Account{}, err
	}
	return acc, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, acc model.Account) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET live_only_mode = $2, forward_urls = $3, share_id = $4, updated_at = $5
		WHERE id = $1
	`, acc.ID, acc.LiveOnlyMode, encodeForwardURLs(acc.ForwardURLs), acc.ShareID, acc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindOrCreateSession(ctx context.Context, token, accountID string, nowMillis int64) (model.Session, bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,'{}',$7,$7)
		ON CONFLICT (token) DO NOTHING
	`, uuid.NewString(), token, accountID, model.DefaultSessionName, model.DefaultSessionLocation, model.DefaultSessionLocation, nowMillis)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("insert session: %w", err)
	}

	sess, err := s.SessionByToken(ctx, token)
	if err != nil {
		return model.Session{}, false, err
	}
	return sess, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateLatest(ctx context.Context, sessionID string, latest model.LatestData, nowMillis int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE sessions SET latest_data = $2, updated_at = $3 WHERE id = $1`, sessionID, encodeLatest(latest), nowMillis)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SessionByToken(ctx context.Context, token string) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token))
	return sess, pgNotFound(err)
}

func (s *PostgresStore) ListSessions(ctx context.Context, accountID string) ([]model.Session, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE account_id = $1 ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, accountID, token string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token = $1 AND account_id = $2`, token, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecordExists(ctx context.Context, sessionID, timestamp string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM telemetry_records WHERE session_id = $1 AND timestamp = $2)`, sessionID, timestamp).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) AppendRecord(ctx context.Context, rec model.TelemetryRecord, nowMillis int64) (model.TelemetryRecord, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = nowMillis

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO telemetry_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.SessionID, rec.Timestamp, rec.Lon, rec.Lat, encodeValues(rec.Values), rec.CreatedAt)
	if err != nil {
		if isPgUnique(err) {
			return model.TelemetryRecord{}, ErrDuplicate
		}
		return model.TelemetryRecord{}, fmt.Errorf("insert record: %w", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE sessions SET latest_data = $2, updated_at = $3 WHERE id = $1`,
		rec.SessionID, encodeLatest(latestFromRecord(rec)), nowMillis)
	if err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("update latest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.TelemetryRecord{}, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, sessionID string, limit int) ([]model.TelemetryRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM telemetry_records WHERE session_id = $1 ORDER BY timestamp LIMIT $2`, sessionID, recordLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.TelemetryRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountRecords(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM telemetry_records WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
