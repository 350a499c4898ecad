package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"

	"torquedash/internal/model"
)

var sessionCols = []string{"id", "token", "account_id", "name", "start_location", "end_location", "latest_data", "created_at", "updated_at"}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPostgres(mock)
}

func TestPostgres_FindOrCreateSession(t *testing.T) {
	mock, s := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO sessions .* ON CONFLICT \(token\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "tok-1", "acc-1", model.DefaultSessionName, "-", "-", int64(1000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id, token, account_id, .* FROM sessions WHERE token = \$1`).
		WithArgs("tok-1").
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow("s-1", "tok-1", "acc-1", model.DefaultSessionName, "-", "-", []byte(`{}`), int64(1000), int64(1000)))

	sess, created, err := s.FindOrCreateSession(ctx, "tok-1", "acc-1", 1000)
	if err != nil {
		t.Fatalf("FindOrCreateSession: %v", err)
	}
	if !created || sess.ID != "s-1" || sess.Name != model.DefaultSessionName {
		t.Fatalf("unexpected session: created=%v %+v", created, sess)
	}

	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(pgxmock.AnyArg(), "tok-1", "acc-1", model.DefaultSessionName, "-", "-", int64(2000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM sessions WHERE token = \$1`).
		WithArgs("tok-1").
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow("s-1", "tok-1", "acc-1", model.DefaultSessionName, "-", "-", []byte(`{"timestamp":"t","lon":"1","lat":"2","values":{"kc":"900"}}`), int64(1000), int64(1500)))

	sess, created, err = s.FindOrCreateSession(ctx, "tok-1", "acc-1", 2000)
	if err != nil {
		t.Fatalf("FindOrCreateSession: %v", err)
	}
	if created || sess.Latest.Values["kc"] != "900" {
		t.Fatalf("expected existing session with latest data, got created=%v %+v", created, sess)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_AppendRecordCommits(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO telemetry_records`).
		WithArgs(pgxmock.AnyArg(), "s-1", "2023-11-14 22:13:20", "-122.4", "37.7", `{"kc":"2500"}`, int64(3000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE sessions SET latest_data`).
		WithArgs("s-1", pgxmock.AnyArg(), int64(3000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	rec, err := s.AppendRecord(context.Background(), model.TelemetryRecord{
		SessionID: "s-1",
		Timestamp: "2023-11-14 22:13:20",
		Lon:       "-122.4",
		Lat:       "37.7",
		Values:    map[string]string{"kc": "2500"},
	}, 3000)
	if err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt != 3000 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_AppendRecordDuplicateRollsBack(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO telemetry_records`).
		WithArgs(pgxmock.AnyArg(), "s-1", "t", "", "", pgxmock.AnyArg(), int64(3000)).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	_, err := s.AppendRecord(context.Background(), model.TelemetryRecord{SessionID: "s-1", Timestamp: "t"}, 3000)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_Accounts(t *testing.T) {
	mock, s := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`FROM accounts WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)
	if _, err := s.AccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	share := "share-1"
	mock.ExpectQuery(`FROM accounts WHERE email = \$1`).
		WithArgs("a@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "live_only_mode", "forward_urls", "share_id", "created_at", "updated_at"}).
			AddRow("acc-1", "a@example.com", true, []byte(`["http://fwd.example/in"]`), &share, int64(1), int64(2)))
	acc, err := s.AccountByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("AccountByEmail: %v", err)
	}
	if !acc.LiveOnlyMode || len(acc.ForwardURLs) != 1 || acc.ShareID == nil || *acc.ShareID != "share-1" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(pgxmock.AnyArg(), "a@example.com", false, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(0), int64(0)).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	if _, err := s.CreateAccount(ctx, model.Account{Email: "a@example.com"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	mock.ExpectExec(`UPDATE accounts SET live_only_mode`).
		WithArgs("acc-1", false, `[]`, pgxmock.AnyArg(), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := s.UpdateAccount(ctx, model.Account{ID: "acc-1", UpdatedAt: 5}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgres_DeleteSessionScopedToOwner(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec(`DELETE FROM sessions WHERE token = \$1 AND account_id = \$2`).
		WithArgs("tok-1", "other").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := s.DeleteSession(context.Background(), "other", "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
