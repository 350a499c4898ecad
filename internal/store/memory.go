package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"torquedash/internal/model"
)

// Memory keeps everything in process maps. It backs DATABASE_URL=memory
// and most handler tests; data is lost on restart.
type Memory struct {
	mu sync.RWMutex

	accountsByID     map[string]model.Account
	accountIDByEmail map[string]string
	accountIDByShare map[string]string
	sessionsByID     map[string]model.Session
	sessionIDByToken map[string]string
	recordsBySession *recordLog
}

func NewMemory() *Memory {
	return &Memory{
		accountsByID:     make(map[string]model.Account),
		accountIDByEmail: make(map[string]string),
		accountIDByShare: make(map[string]string),
		sessionsByID:     make(map[string]model.Session),
		sessionIDByToken: make(map[string]string),
		recordsBySession: newRecordLog(),
	}
}

func cloneAccount(acc model.Account) model.Account {
	if acc.ForwardURLs != nil {
		acc.ForwardURLs = append([]string(nil), acc.ForwardURLs...)
	}
	if acc.ShareID != nil {
		v := *acc.ShareID
		acc.ShareID = &v
	}
	return acc
}

func cloneSession(sess model.Session) model.Session {
	sess.Latest.Values = cloneValues(sess.Latest.Values)
	return sess
}

func (s *Memory) AccountByEmail(_ context.Context, email string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountIDByEmail[email]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return cloneAccount(s.accountsByID[id]), nil
}

func (s *Memory) AccountByID(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accountsByID[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return cloneAccount(acc), nil
}

func (s *Memory) AccountByShareID(_ context.Context, shareID string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountIDByShare[shareID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return cloneAccount(s.accountsByID[id]), nil
}

func (s *Memory) CreateAccount(_ context.Context, acc model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountIDByEmail[acc.Email]; ok {
		return model.Account{}, ErrAccountExists
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	acc = cloneAccount(acc)
	s.accountsByID[acc.ID] = acc
	s.accountIDByEmail[acc.Email] = acc.ID
	if acc.ShareID != nil {
		s.accountIDByShare[*acc.ShareID] = acc.ID
	}
	return cloneAccount(acc), nil
}

func (s *Memory) UpdateAccount(_ context.Context, acc model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accountsByID[acc.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.ShareID != nil {
		delete(s.accountIDByShare, *existing.ShareID)
	}
	acc = cloneAccount(acc)
	acc.Email = existing.Email
	acc.CreatedAt = existing.CreatedAt
	s.accountsByID[acc.ID] = acc
	if acc.ShareID != nil {
		s.accountIDByShare[*acc.ShareID] = acc.ID
	}
	return nil
}

func (s *Memory) FindOrCreateSession(_ context.Context, token, accountID string, nowMillis int64) (model.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sid, ok := s.sessionIDByToken[token]; ok {
		return cloneSession(s.sessionsByID[sid]), false, nil
	}

	sess := model.Session{
		ID:            uuid.NewString(),
		Token:         token,
		AccountID:     accountID,
		Name:          model.DefaultSessionName,
		StartLocation: model.DefaultSessionLocation,
		EndLocation:   model.DefaultSessionLocation,
		CreatedAt:     nowMillis,
		UpdatedAt:     nowMillis,
	}
	s.sessionsByID[sess.ID] = sess
	s.sessionIDByToken[token] = sess.ID
	return cloneSession(sess), true, nil
}

func (s *Memory) UpdateLatest(_ context.Context, sessionID string, latest model.LatestData, nowMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok {
		return ErrNotFound
	}
	latest.Values = cloneValues(latest.Values)
	sess.Latest = latest
	sess.UpdatedAt = nowMillis
	s.sessionsByID[sessionID] = sess
	return nil
}

func (s *Memory) SessionByToken(_ context.Context, token string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sid, ok := s.sessionIDByToken[token]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return cloneSession(s.sessionsByID[sid]), nil
}

func (s *Memory) ListSessions(_ context.Context, accountID string) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Session, 0)
	for _, sess := range s.sessionsByID {
		if sess.AccountID == accountID {
			result = append(result, cloneSession(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt > result[j].UpdatedAt })
	return result, nil
}

func (s *Memory) DeleteSession(_ context.Context, accountID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sid, ok := s.sessionIDByToken[token]
	if !ok {
		return ErrNotFound
	}
	sess := s.sessionsByID[sid]
	if sess.AccountID != accountID {
		return ErrNotFound
	}
	delete(s.sessionsByID, sid)
	delete(s.sessionIDByToken, token)
	s.recordsBySession.deleteSession(sid)
	return nil
}

func (s *Memory) RecordExists(_ context.Context, sessionID, timestamp string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsBySession.has(sessionID, timestamp), nil
}

func (s *Memory) AppendRecord(_ context.Context, rec model.TelemetryRecord, nowMillis int64) (model.TelemetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[rec.SessionID]
	if !ok {
		return model.TelemetryRecord{}, ErrNotFound
	}
	if s.recordsBySession.has(rec.SessionID, rec.Timestamp) {
		return model.TelemetryRecord{}, ErrDuplicate
	}

	rec.ID = uuid.NewString()
	rec.Values = cloneValues(rec.Values)
	rec.CreatedAt = nowMillis
	s.recordsBySession.append(rec)

	sess.Latest = latestFromRecord(rec)
	sess.UpdatedAt = nowMillis
	s.sessionsByID[rec.SessionID] = sess
	return rec, nil
}

func (s *Memory) ListRecords(_ context.Context, sessionID string, limit int) ([]model.TelemetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsBySession.list(sessionID, recordLimit(limit)), nil
}

func (s *Memory) CountRecords(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsBySession.count(sessionID), nil
}

func (s *Memory) Close() error { return nil }
