package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/dlq"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// Options carries the shared services a sink reports to
type Options struct {
	Logger  *logging.Logger
	Metrics *metrics.Collector

	// Now overrides the clock used for retention and backoff
	Now func() time.Time
}

// Buffered accumulates records and commits them to a backend in batches.
// A failed commit keeps every record buffered for the next attempt.
type Buffered struct {
	config  BaseConfig
	backend Backend
	querier Querier
	dead    *dlq.Queue
	logger  *logging.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu        sync.Mutex
	pending   []types.Record
	connected bool
	closed    bool
	failures  int
	retryAt   time.Time
	stats     types.SinkStats
}

// NewBuffered creates a buffered sink over backend
func NewBuffered(config BaseConfig, backend Backend, opts Options) *Buffered {
	config.applyDefaults()
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &Buffered{
		config:  config,
		backend: backend,
		logger:  logging.OrNop(opts.Logger).WithComponent("output").WithField("output", config.Name),
		metrics: opts.Metrics,
		now:     opts.Now,
		pending: make([]types.Record, 0, config.BufferSize+1),
	}
	if q, ok := backend.(Querier); ok {
		b.querier = q
	}
	if config.DeadLetterDir != "" {
		q, err := dlq.Open(dlq.Config{Dir: config.DeadLetterDir, Name: config.Name, MaxSize: config.DeadLetterMax})
		if err != nil {
			b.logger.Warn().Err(err).Msg("Dead letter queue unavailable, overflow records will be lost")
		} else {
			b.dead = q
			if n := q.Size(); n > 0 {
				b.logger.Info().Int("records", n).Str("path", q.Path()).Msg("Dead letter records waiting for replay")
			}
		}
	}
	return b
}

// Name returns the output name
func (b *Buffered) Name() string {
	return b.config.Name
}

// Type returns the output type
func (b *Buffered) Type() string {
	return b.config.Type
}

// Connect establishes the backend connection
func (b *Buffered) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(ctx); err != nil {
		return err
	}
	b.replayLocked()
	return nil
}

func (b *Buffered) connectLocked(ctx context.Context) error {
	if err := b.backend.Connect(ctx); err != nil {
		b.connected = false
		return fmt.Errorf("failed to connect output %s: %w", b.config.Name, err)
	}
	b.connected = true
	b.logger.Debug().Msg("Output connected")
	return nil
}

// reconnectLocked asks the backend to reconnect after a failed commit. The
// sink stays disconnected until the next successful send.
func (b *Buffered) reconnectLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.CommitTimeout)
	defer cancel()
	if err := b.backend.Connect(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("Reconnect failed")
	}
}

// replayLocked moves dead letter records in front of the buffer
func (b *Buffered) replayLocked() {
	if b.dead == nil || b.dead.Size() == 0 {
		return
	}
	recs, err := b.dead.Drain()
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to drain dead letter queue")
		return
	}
	b.pending = append(recs, b.pending...)
	b.metrics.Pending(b.config.Name, len(b.pending))
	b.logger.Info().Int("records", len(recs)).Msg("Replaying dead letter records")
}

// spoolLocked keeps recs in the dead letter queue. It reports false when
// there is none or it refused some records.
func (b *Buffered) spoolLocked(recs []types.Record, reason error) bool {
	if b.dead == nil || len(recs) == 0 {
		return false
	}
	if err := b.dead.Enqueue(recs, reason); err != nil {
		b.logger.Warn().Err(err).Int("records", len(recs)).Msg("Failed to store dead letter records")
		return false
	}
	return true
}

// Write buffers rec. When the buffer grows past the configured size a
// commit is attempted; its failure is logged and keeps the records queued.
func (b *Buffered) Write(ctx context.Context, rec types.Record) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	b.pending = append(b.pending, rec)
	if b.config.MaxPending > 0 && len(b.pending) > b.config.MaxPending {
		dropped := len(b.pending) - b.config.MaxPending
		overflow := append([]types.Record(nil), b.pending[:dropped]...)
		b.pending = append(b.pending[:0], b.pending[dropped:]...)
		if b.spoolLocked(overflow, ErrBufferFull) {
			b.logger.Warn().Int("records", dropped).Msg("Output buffer full, oldest records moved to dead letter queue")
		} else {
			b.logger.Warn().Int("dropped", dropped).Msg("Output buffer full, dropping oldest records")
		}
	}

	n := len(b.pending)
	due := n > b.config.BufferSize && !b.now().Before(b.retryAt)
	b.metrics.Pending(b.config.Name, n)
	b.mu.Unlock()

	if due {
		if err := b.Commit(ctx); err != nil {
			b.logger.Debug().Err(err).Msg("Write-triggered commit failed")
		}
	}
	return nil
}

// Commit sends all buffered records
func (b *Buffered) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commitLocked(ctx)
}

func (b *Buffered) commitLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	batch := make([]types.Record, len(b.pending))
	copy(batch, b.pending)

	ctx, cancel := context.WithTimeout(ctx, b.config.CommitTimeout)
	defer cancel()
	ctx, span := tracing.TraceCommit(ctx, b.config.Name, b.config.Type, len(batch))
	defer span.End()

	start := time.Now()
	err := b.backend.Send(ctx, batch)
	b.metrics.Commit(b.config.Name, len(batch), time.Since(start), err)

	now := b.now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		b.failures++
		b.retryAt = now.Add(reliability.ExponentialBackoff(b.failures-1, b.config.RetryBackoff, 2, b.config.MaxRetryBackoff))
		b.connected = false
		b.stats.CommitFailures++
		b.stats.LastCommitFailed = true
		b.stats.LastError = err.Error()
		b.stats.LastErrorTime = now

		b.logger.Warn().Err(err).Int("pending", len(b.pending)).Msg("Commit failed, records kept for retry")
		b.reconnectLocked()
		return fmt.Errorf("%w: %s: %w", ErrCommitFailed, b.config.Name, err)
	}

	b.pending = b.pending[:0]
	b.failures = 0
	b.retryAt = time.Time{}
	b.connected = true
	b.stats.Commits++
	b.stats.RecordsWritten += int64(len(batch))
	b.stats.LastCommitTime = now
	b.stats.LastCommitFailed = false
	b.metrics.Pending(b.config.Name, 0)

	b.logger.Debug().Int("records", len(batch)).Msg("Committed records")
	// the backend is back, queue the dead letters for the next commit
	b.replayLocked()
	return nil
}

// Count queries the backend, or returns Unsupported
func (b *Buffered) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if b.querier == nil {
		return Unsupported, nil
	}
	return b.querier.Count(ctx, filter)
}

// IsNew reports whether neither the buffer nor the backend holds a record
// of source with field equal to value. Unqueryable backends treat every
// value as new.
func (b *Buffered) IsNew(ctx context.Context, source, field string, value any) (bool, error) {
	if b.querier == nil {
		return true, nil
	}

	want := types.FormatValue(value)
	b.mu.Lock()
	for _, rec := range b.pending {
		if rec.Name() != source {
			continue
		}
		if v, ok := rec[field]; ok && types.FormatValue(v) == want {
			b.mu.Unlock()
			return false, nil
		}
	}
	b.mu.Unlock()

	n, err := b.querier.Count(ctx, docstore.Filter{types.NameField: source, field: value})
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Cleanup removes records of source older than retentionDays
func (b *Buffered) Cleanup(ctx context.Context, source string, retentionDays int) (int64, error) {
	if b.querier == nil || retentionDays <= 0 {
		return 0, nil
	}

	ctx, span := tracing.TraceCleanup(ctx, b.config.Name, source, retentionDays)
	defer span.End()

	cutoff := docstore.Cutoff(b.now(), retentionDays)
	n, err := b.querier.DeleteOlderThan(ctx, source, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("cleanup of %s on %s failed: %w", source, b.config.Name, err)
	}

	b.metrics.CleanupDeleted(b.config.Name, source, n)
	if n > 0 {
		b.logger.Info().Str("source", source).Int64("deleted", n).Time("cutoff", cutoff).Msg("Removed expired records")
	}
	return n, nil
}

// Stats returns a snapshot of the sink state
func (b *Buffered) Stats() types.SinkStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stats
	s.Pending = len(b.pending)
	s.Connected = b.connected
	if b.dead != nil {
		s.DeadLetters = b.dead.Size()
	}
	return s
}

// Close commits what is left and closes the backend. Records that still
// fail to commit are reported in the returned error.
func (b *Buffered) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	commitErr := b.commitLocked(ctx)
	if commitErr != nil {
		if b.spoolLocked(b.pending, commitErr) {
			b.logger.Warn().Err(commitErr).Int("records", len(b.pending)).Msg("Final commit failed, records kept in dead letter queue")
			b.pending = b.pending[:0]
		} else {
			b.logger.Error().Err(commitErr).Int("lost", len(b.pending)).Msg("Final commit failed")
		}
	}
	if b.dead != nil {
		b.dead.Close()
	}
	if err := b.backend.Close(ctx); err != nil {
		return fmt.Errorf("failed to close output %s: %w", b.config.Name, err)
	}
	return commitErr
}
