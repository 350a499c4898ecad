package store

import (
	"sort"

	"torquedash/internal/model"
)

// recordLog is the in-memory record table. It has no lock of its own;
// Memory.mu guards it.
type recordLog struct {
	data  map[string][]model.TelemetryRecord
	index map[string]map[string]struct{} // sessionID -> timestamp set
}

func newRecordLog() *recordLog {
	return &recordLog{
		data:  make(map[string][]model.TelemetryRecord),
		index: make(map[string]map[string]struct{}),
	}
}

func (l *recordLog) has(sessionID, timestamp string) bool {
	_, ok := l.index[sessionID][timestamp]
	return ok
}

func (l *recordLog) append(rec model.TelemetryRecord) {
	if l.index[rec.SessionID] == nil {
		l.index[rec.SessionID] = make(map[string]struct{})
	}
	l.index[rec.SessionID][rec.Timestamp] = struct{}{}
	l.data[rec.SessionID] = append(l.data[rec.SessionID], rec)
}

func (l *recordLog) list(sessionID string, limit int) []model.TelemetryRecord {
	recs := l.data[sessionID]
	result := make([]model.TelemetryRecord, 0, min(len(recs), limit))
	for _, rec := range recs {
		rec.Values = cloneValues(rec.Values)
		result = append(result, rec)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (l *recordLog) count(sessionID string) int {
	return len(l.data[sessionID])
}

func (l *recordLog) deleteSession(sessionID string) {
	delete(l.data, sessionID)
	delete(l.index, sessionID)
}
