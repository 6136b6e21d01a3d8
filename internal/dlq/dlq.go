// Package dlq keeps records an output could not commit in a file next to
// the collector state, so they are replayed once the output recovers.
package dlq

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

var (
	ErrClosed = errors.New("dead letter queue is closed")
	ErrFull   = errors.New("dead letter queue is full")
)

// DefaultMaxSize bounds a queue that sets no size
const DefaultMaxSize = 10000

// Config holds configuration for one output's queue
type Config struct {
	Dir     string
	Name    string
	MaxSize int
}

// Entry is one record that failed to commit
type Entry struct {
	Record    types.Record `json:"-"`
	Error     string       `json:"error"`
	Timestamp time.Time    `json:"timestamp"`
}

// Queue is a bounded file-backed list of failed records. Every change is
// persisted before the call returns.
type Queue struct {
	path    string
	maxSize int

	mu      sync.Mutex
	entries []Entry
	closed  bool
	dropped uint64
}

// Open loads the queue of cfg.Name from cfg.Dir, creating the directory
func Open(cfg Config) (*Queue, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dead letter directory is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("dead letter queue name is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dead letter directory: %w", err)
	}

	q := &Queue{
		path:    filepath.Join(cfg.Dir, cfg.Name+".jsonl"),
		maxSize: cfg.MaxSize,
	}
	if err := q.load(); err != nil {
		return nil, fmt.Errorf("failed to load dead letter queue: %w", err)
	}
	return q, nil
}

// Path returns the queue file
func (q *Queue) Path() string {
	return q.path
}

// Enqueue appends recs with the error that made them fail. Records past
// the size bound are dropped and ErrFull is returned.
func (q *Queue) Enqueue(recs []types.Record, reason error) error {
	if len(recs) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	now := time.Now()

	var full bool
	for _, rec := range recs {
		if len(q.entries) >= q.maxSize {
			q.dropped++
			full = true
			continue
		}
		q.entries = append(q.entries, Entry{Record: rec, Error: msg, Timestamp: now})
	}

	if err := q.flush(); err != nil {
		return err
	}
	if full {
		return ErrFull
	}
	return nil
}

// Drain removes and returns every queued record, oldest first
func (q *Queue) Drain() ([]types.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if len(q.entries) == 0 {
		return nil, nil
	}

	recs := make([]types.Record, len(q.entries))
	for i, e := range q.entries {
		recs[i] = e.Record
	}
	kept := q.entries
	q.entries = nil
	if err := q.flush(); err != nil {
		q.entries = kept
		return nil, err
	}
	return recs, nil
}

// Entries returns a copy of the queued entries
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Size returns the number of queued records
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Dropped returns the number of records refused because the queue was full
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting records. The file stays for the next start.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// line is the on-disk form of an entry; values keep their type tag so
// timestamps and numbers come back as they went in
type line struct {
	Record    map[string]value `json:"record"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type value struct {
	Kind string `json:"k"`
	Raw  string `json:"v"`
}

func encodeValue(v any) value {
	switch val := v.(type) {
	case int64:
		return value{"i", strconv.FormatInt(val, 10)}
	case int:
		return value{"i", strconv.Itoa(val)}
	case float64:
		return value{"f", strconv.FormatFloat(val, 'g', -1, 64)}
	case bool:
		return value{"b", strconv.FormatBool(val)}
	case time.Time:
		return value{"t", val.Format(time.RFC3339Nano)}
	default:
		return value{"s", types.FormatValue(v)}
	}
}

func decodeValue(v value) (any, error) {
	switch v.Kind {
	case "i":
		return strconv.ParseInt(v.Raw, 10, 64)
	case "f":
		return strconv.ParseFloat(v.Raw, 64)
	case "b":
		return strconv.ParseBool(v.Raw)
	case "t":
		return time.Parse(time.RFC3339Nano, v.Raw)
	default:
		return v.Raw, nil
	}
}

// flush rewrites the file through a temp file; must be called with the
// lock held
func (q *Queue) flush() error {
	if len(q.entries) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove dead letter file: %w", err)
		}
		return nil
	}

	tempFile := q.path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	encoder := json.NewEncoder(w)
	for _, e := range q.entries {
		l := line{Record: make(map[string]value, len(e.Record)), Error: e.Error, Timestamp: e.Timestamp}
		for k, v := range e.Record {
			l.Record[k] = encodeValue(v)
		}
		if err := encoder.Encode(l); err != nil {
			file.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to write dead letter file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempFile, q.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (q *Queue) load() error {
	file, err := os.Open(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(bufio.NewReader(file))
	for decoder.More() {
		var l line
		if err := decoder.Decode(&l); err != nil {
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		rec := make(types.Record, len(l.Record))
		for k, v := range l.Record {
			val, err := decodeValue(v)
			if err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
			rec[k] = val
		}
		q.entries = append(q.entries, Entry{Record: rec, Error: l.Error, Timestamp: l.Timestamp})
	}
	return nil
}
