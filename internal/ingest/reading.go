package ingest

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query keys the Torque client sends alongside sensor values.
const (
	KeyEmail     = "eml"
	KeyVersion   = "v"
	KeySession   = "session"
	KeyID        = "id"
	KeyTime      = "time"
	KeyLongitude = "kff1005"
	KeyLatitude  = "kff1006"
)

var reservedKeys = map[string]struct{}{
	KeyEmail:     {},
	KeyVersion:   {},
	KeySession:   {},
	KeyID:        {},
	KeyTime:      {},
	KeyLongitude: {},
	KeyLatitude:  {},
}

const TimestampLayout = "2006-01-02 15:04:05"

// Reading is one parsed upload request.
type Reading struct {
	Email   string
	Version string
	Session string
	ID      string
	Time    string

	Lon         string
	Lat         string
	HasPosition bool

	Values map[string]string
	Raw    url.Values
}

// ParseReading splits an upload query into reserved fields and sensor
// values. Repeated keys keep their first value; Raw keeps everything for
// forwarding.
func ParseReading(q url.Values) Reading {
	r := Reading{
		Email:   first(q, KeyEmail),
		Version: first(q, KeyVersion),
		Session: first(q, KeySession),
		ID:      first(q, KeyID),
		Time:    first(q, KeyTime),
		Lon:     first(q, KeyLongitude),
		Lat:     first(q, KeyLatitude),
		Values:  make(map[string]string),
		Raw:     q,
	}
	_, hasLon := q[KeyLongitude]
	_, hasLat := q[KeyLatitude]
	r.HasPosition = hasLon && hasLat

	for k, vs := range q {
		if _, ok := reservedKeys[k]; ok || len(vs) == 0 {
			continue
		}
		r.Values[k] = vs[0]
	}
	return r
}

func first(q url.Values, key string) string {
	if vs := q[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// NormalizeTimestamp renders an epoch-millisecond string as
// "YYYY-MM-DD HH:mm:ss" in loc, dropping sub-second precision.
func NormalizeTimestamp(millis string, loc *time.Location) (string, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(millis), 10, 64)
	if err != nil {
		return "", ErrInvalidTime
	}
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(TimestampLayout), nil
}
