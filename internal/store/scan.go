package store

import (
	"encoding/json"
	"fmt"

	"torquedash/internal/model"
)

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const accountColumns = `id, email, live_only_mode, forward_urls, share_id, created_at, updated_at`

func scanAccount(row rowScanner) (model.Account, error) {
	var acc model.Account
	var forward []byte
	if err := row.Scan(&acc.ID, &acc.Email, &acc.LiveOnlyMode, &forward, &acc.ShareID, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return model.Account{}, err
	}
	if len(forward) > 0 {
		if err := json.Unmarshal(forward, &acc.ForwardURLs); err != nil {
			return model.Account{}, fmt.Errorf("decode forward urls: %w", err)
		}
	}
	return acc, nil
}

const sessionColumns = `id, token, account_id, name, start_location, end_location, latest_data, created_at, updated_at`

func scanSession(row rowScanner) (model.Session, error) {
	var sess model.Session
	var latest []byte
	if err := row.Scan(&sess.ID, &sess.Token, &sess.AccountID, &sess.Name, &sess.StartLocation, &sess.EndLocation, &latest, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return model.Session{}, err
	}
	if len(latest) > 0 {
		if err := json.Unmarshal(latest, &sess.Latest); err != nil {
			return model.Session{}, fmt.Errorf("decode latest data: %w", err)
		}
	}
	return sess, nil
}

const recordColumns = `id, session_id, timestamp, lon, lat, sensor_values, created_at`

func scanRecord(row rowScanner) (model.TelemetryRecord, error) {
	var rec model.TelemetryRecord
	var values []byte
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &rec.Lon, &rec.Lat, &values, &rec.CreatedAt); err != nil {
		return model.TelemetryRecord{}, err
	}
	rec.Values = map[string]string{}
	if len(values) > 0 {
		if err := json.Unmarshal(values, &rec.Values); err != nil {
			return model.TelemetryRecord{}, fmt.Errorf("decode sensor values: %w", err)
		}
	}
	return rec, nil
}

func encodeForwardURLs(urls []string) string {
	if urls == nil {
		urls = []string{}
	}
	data, _ := json.Marshal(urls)
	return string(data)
}

func encodeLatest(latest model.LatestData) string {
	if latest.Values == nil {
		latest.Values = map[string]string{}
	}
	data, _ := json.Marshal(latest)
	return string(data)
}

func encodeValues(values map[string]string) string {
	if values == nil {
		values = map[string]string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}
