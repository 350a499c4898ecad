package model

const (
	DefaultSessionName     = "Unnamed session"
	DefaultSessionLocation = "-"
)

type Account struct {
	ID           string
	Email        string
	LiveOnlyMode bool
	ForwardURLs  []string
	ShareID      *string
	CreatedAt    int64
	UpdatedAt    int64
}

// LatestData is the snapshot of the most recently accepted reading of a
// session. Values holds sensor key -> raw value exactly as received.
type LatestData struct {
	Timestamp string            `json:"timestamp"`
	Lon       string            `json:"lon"`
	Lat       string            `json:"lat"`
	Values    map[string]string `json:"values"`
}

func (d LatestData) IsZero() bool {
	return d.Timestamp == "" && d.Lon == "" && d.Lat == "" && len(d.Values) == 0
}

type Session struct {
	ID            string
	Token         string
	AccountID     string
	Name          string
	StartLocation string
	EndLocation   string
	Latest        LatestData
	CreatedAt     int64
	UpdatedAt     int64
}

type TelemetryRecord struct {
	ID        string
	SessionID string
	Timestamp string
	Lon       string
	Lat       string
	Values    map[string]string
	CreatedAt int64
}
