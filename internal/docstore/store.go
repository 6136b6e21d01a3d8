// Package docstore is the narrow document-store interface used by output
// sinks and store notifiers, with MongoDB, Elasticsearch and in-memory
// implementations.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/parser"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// TimestampField holds the event time used by retention cleanup
const TimestampField = "timestamp"

// AllSources selects documents of every source in DeleteOlderThan
const AllSources = ""

var ErrNotConnected = errors.New("document store not connected")

// Filter matches documents whose fields equal the given values
type Filter map[string]any

// Store is a document store
type Store interface {
	// InsertMany stores all documents or fails as a whole
	InsertMany(ctx context.Context, docs []types.Record) error

	// Count returns the number of documents matching filter
	Count(ctx context.Context, filter Filter) (int64, error)

	// DeleteOlderThan removes documents of source with a timestamp at or
	// before cutoff and returns how many were removed. AllSources matches
	// every source.
	DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error)

	// Ping checks connectivity
	Ping(ctx context.Context) error

	// Close releases the connection
	Close(ctx context.Context) error
}

// Matches reports whether rec satisfies filter. Values are compared in
// their formatted form.
func (f Filter) Matches(rec types.Record) bool {
	for k, want := range f {
		got, ok := rec[k]
		if !ok || types.FormatValue(got) != types.FormatValue(want) {
			return false
		}
	}
	return true
}

// RecordTime extracts the timestamp of a record, accepting native times
// and ISO-8601 strings.
func RecordTime(rec types.Record) (time.Time, bool) {
	switch v := rec[TimestampField].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := parser.ParseISO8601(v)
		return t, err == nil
	}
	return time.Time{}, false
}

// Cutoff returns the instant before which documents fall outside a
// retention of days
func Cutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
