package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"torquedash/internal/model"
)

// SQLiteStore is the embedded backend. It runs on a single connection so
// writers are serialized and the (session_id, timestamp) unique index is
// the final word on duplicates.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("missing sqlite path")
	}
	dsn := path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			live_only_mode INTEGER NOT NULL DEFAULT 0,
			forward_urls TEXT NOT NULL DEFAULT '[]',
			share_id TEXT UNIQUE,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			start_location TEXT NOT NULL,
			end_location TEXT NOT NULL,
			latest_data TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id);`,
		`CREATE TABLE IF NOT EXISTS telemetry_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			timestamp TEXT NOT NULL,
			lon TEXT NOT NULL,
			lat TEXT NOT NULL,
			sensor_values TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE(session_id, timestamp)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return strings.Contains(se.Error(), "UNIQUE constraint failed")
}

func sqliteNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStore) AccountByEmail(ctx context.Context, email string) (model.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email))
	return acc, sqliteNotFound(err)
}

func (s *SQLiteStore) AccountByID(ctx context.Context, id string) (model.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	return acc, sqliteNotFound(err)
}

func (s *SQLiteStore) AccountByShareID(ctx context.Context, shareID string) (model.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE share_id = ?`, shareID))
	return acc, sqliteNotFound(err)
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?,?,?,?,?,?,?)`,
		acc.ID, acc.Email, acc.LiveOnlyMode, encodeForwardURLs(acc.ForwardURLs), acc.ShareID, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if isSQLiteUnique(err) {
			return model.Account{}, ErrAccountExists
		}
		return model.Account{}, err
	}
	return acc, nil
}

func (s *SQLiteStore) UpdateAccount(ctx context.Context, acc model.Account) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET live_only_mode = ?, forward_urls = ?, share_id = ?, updated_at = ? WHERE id = ?`,
		acc.LiveOnlyMode, encodeForwardURLs(acc.ForwardURLs), acc.ShareID, acc.UpdatedAt, acc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FindOrCreateSession(ctx context.Context, token, accountID string, nowMillis int64) (model.Session, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?,?,?,?,?,?,'{}',?,?)
		ON CONFLICT(token) DO NOTHING
	`, uuid.NewString(), token, accountID, model.DefaultSessionName, model.DefaultSessionLocation, model.DefaultSessionLocation, nowMillis, nowMillis)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("insert session: %w", err)
	}
	created, _ := res.RowsAffected()

	sess, err := s.SessionByToken(ctx, token)
	if err != nil {
		return model.Session{}, false, err
	}
	return sess, created == 1, nil
}

func (s *SQLiteStore) UpdateLatest(ctx context.Context, sessionID string, latest model.LatestData, nowMillis int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET latest_data = ?, updated_at = ? WHERE id = ?`, encodeLatest(latest), nowMillis, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SessionByToken(ctx context.Context, token string) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token = ?`, token))
	return sess, sqliteNotFound(err)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, accountID string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE account_id = ? ORDER BY updated_at DESC`, accountID)
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

func (s *SQLiteStore) DeleteSession(ctx context.Context, accountID, token string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var sessionID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE token = ? AND account_id = ?`, token, accountID).Scan(&sessionID)
	if err != nil {
		return sqliteNotFound(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM telemetry_records WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordExists(ctx context.Context, sessionID, timestamp string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM telemetry_records WHERE session_id = ? AND timestamp = ? LIMIT 1`, sessionID, timestamp).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec model.TelemetryRecord, nowMillis int64) (model.TelemetryRecord, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = nowMillis

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO telemetry_records (`+recordColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.SessionID, rec.Timestamp, rec.Lon, rec.Lat, encodeValues(rec.Values), rec.CreatedAt)
	if err != nil {
		if isSQLiteUnique(err) {
			return model.TelemetryRecord{}, ErrDuplicate
		}
		return model.TelemetryRecord{}, fmt.Errorf("insert record: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET latest_data = ?, updated_at = ? WHERE id = ?`,
		encodeLatest(latestFromRecord(rec)), nowMillis, rec.SessionID)
	if err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("update latest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.TelemetryRecord{}, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, sessionID string, limit int) ([]model.TelemetryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM telemetry_records WHERE session_id = ? ORDER BY timestamp LIMIT ?`, sessionID, recordLimit(limit))
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

func (s *SQLiteStore) CountRecords(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry_records WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
