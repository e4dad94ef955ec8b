package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scan record status values. These mirror the in-memory session states; the
// record is the durable side of the same lifecycle.
const (
	ScanStatusStarting = "starting"
	ScanStatusRunning  = "running"
	ScanStatusDone     = "done"
	ScanStatusError    = "error"
)

// JSONB handles PostgreSQL JSONB columns.
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = make(JSONB, len(v))
		copy(*j, v)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = make(JSONB, len(data))
	copy(*j, data)
	return nil
}

// ScanRecord is the persisted record of one scan invocation. It shares its
// id with the in-memory session; once the session is evicted this record is
// the only remaining view of the outcome.
type ScanRecord struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OwnerID      string     `db:"owner_id" json:"owner_id"`
	Target       string     `db:"target" json:"target"`
	Profile      string     `db:"profile" json:"profile"`
	Status       string     `db:"status" json:"status"`
	Summary      JSONB      `db:"summary" json:"summary,omitempty"`
	Hosts        JSONB      `db:"hosts" json:"hosts,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ScanSummary is the counters stored in the record's summary column.
type ScanSummary struct {
	HostsUp     int     `json:"hosts_up"`
	HostsDown   int     `json:"hosts_down"`
	HostsTotal  int     `json:"hosts_total"`
	OpenPorts   int     `json:"open_ports"`
	DurationSec float64 `json:"duration_seconds"`
}
