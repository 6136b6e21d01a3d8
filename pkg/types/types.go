package types

import (
	"fmt"
	"strconv"
	"time"
)

// Record is a structured event extracted from one matched log line.
// Values are scalars: string, int64, float64, bool or time.Time.
type Record map[string]any

// NameField is the record key identifying the log source.
const NameField = "name"

// Name returns the logical source name of the record
func (r Record) Name() string {
	s, _ := r[NameField].(string)
	return s
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FormatValue renders a record value as a string
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// Strings returns a copy of the record with every value formatted
func (r Record) Strings() map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = FormatValue(v)
	}
	return out
}

// FilePosition tracks the persisted read position of a tailed file
type FilePosition struct {
	Pos    int64  `json:"pos"`
	Path   string `json:"path"`
	Inode  uint64 `json:"inode"`
	Device uint64 `json:"device"`
}

// SinkStats is a point-in-time view of an output sink
type SinkStats struct {
	Pending          int       `json:"pending"`
	Connected        bool      `json:"connected"`
	Commits          int64     `json:"commits"`
	CommitFailures   int64     `json:"commit_failures"`
	RecordsWritten   int64     `json:"records_written"`
	LastCommitTime   time.Time `json:"last_commit_time"`
	LastCommitFailed bool      `json:"last_commit_failed"`
	LastError        string    `json:"last_error,omitempty"`
	LastErrorTime    time.Time `json:"last_error_time,omitempty"`
	DeadLetters      int       `json:"dead_letters,omitempty"`
}
