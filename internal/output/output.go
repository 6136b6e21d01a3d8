package output

import (
	"context"
	"errors"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

var (
	ErrCommitFailed = errors.New("commit failed")
	ErrUnknownType  = errors.New("unknown output type")
	ErrClosed       = errors.New("output is closed")
	ErrBufferFull   = errors.New("output buffer full")
)

// Unsupported is returned by Count on sinks that cannot be queried
const Unsupported int64 = -1

// DefaultBufferSize is the number of records buffered before a commit
const DefaultBufferSize = 1

// Sink is a named, buffered destination for records
type Sink interface {
	// Name returns the configured output name
	Name() string

	// Type returns the output type tag
	Type() string

	// Connect (re)establishes the backend connection
	Connect(ctx context.Context) error

	// Write buffers a record and commits when the buffer exceeds its threshold
	Write(ctx context.Context, rec types.Record) error

	// Commit sends every buffered record. Records stay buffered on failure.
	Commit(ctx context.Context) error

	// Count returns the number of stored records matching filter, or
	// Unsupported
	Count(ctx context.Context, filter docstore.Filter) (int64, error)

	// IsNew reports whether no record of source with field == value exists
	IsNew(ctx context.Context, source, field string, value any) (bool, error)

	// Cleanup deletes records of source older than retentionDays days. A
	// retention of 0 disables cleanup.
	Cleanup(ctx context.Context, source string, retentionDays int) (int64, error)

	// Stats returns a snapshot of the sink state
	Stats() types.SinkStats

	// Close flushes and releases the backend
	Close(ctx context.Context) error
}

// Backend delivers committed batches for a buffered sink
type Backend interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, recs []types.Record) error
	Close(ctx context.Context) error
}

// Querier is implemented by backends that keep records queryable
type Querier interface {
	Count(ctx context.Context, filter docstore.Filter) (int64, error)
	DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error)
}

// BaseConfig contains common configuration for all outputs
type BaseConfig struct {
	// Type is the output type (stdout, ignore, memory, mongo, elasticsearch, kafka, beats, s3)
	Type string `yaml:"type"`

	// Name is the unique identifier files refer to
	Name string `yaml:"name"`

	// BufferSize is the number of records held before a commit is triggered
	BufferSize int `yaml:"buffer_size,omitempty"`

	// MaxPending bounds the buffer while the backend is failing; 0 means unbounded
	MaxPending int `yaml:"max_pending,omitempty"`

	// CommitTimeout bounds a single commit
	CommitTimeout time.Duration `yaml:"commit_timeout,omitempty"`

	// RetryBackoff is the initial delay before a write triggers another
	// commit after a failure; periodic flushes always retry
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`

	// MaxRetryBackoff caps the backoff
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff,omitempty"`

	// DeadLetterDir keeps records dropped from a full buffer or left over
	// at shutdown; they are replayed on the next successful connect
	DeadLetterDir string `yaml:"dead_letter_dir,omitempty"`

	// DeadLetterMax bounds the dead letter file
	DeadLetterMax int `yaml:"dead_letter_max,omitempty"`
}

// DefaultBaseConfig returns default base configuration
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		BufferSize:      DefaultBufferSize,
		CommitTimeout:   10 * time.Second,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: time.Minute,
	}
}

func (c *BaseConfig) applyDefaults() {
	d := DefaultBaseConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
}

// CompressionType defines the compression algorithm to use
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)
