// Package collector owns the watched files, the filesystem watch loop and
// the periodic state dump and cleanup loops.
package collector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/codes"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tailer"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// Default loop intervals
const (
	DefaultDumpInterval    = 15 * time.Second
	DefaultCleanupInterval = time.Hour
)

// ErrNotStarted is returned by Join before Start
var ErrNotStarted = errors.New("collector not started")

// Options configures a Collector
type Options struct {
	StateFile       string
	DumpInterval    time.Duration
	CleanupInterval time.Duration

	// FlushTimeout bounds the commits of one FlushOutput
	FlushTimeout time.Duration
}

// CleanupFunc applies retention somewhere outside the watched files
type CleanupFunc func(ctx context.Context) error

type cleanupHook struct {
	name string
	fn   CleanupFunc
}

// committer is implemented by outputs that buffer records
type committer interface {
	Name() string
	Commit(ctx context.Context) error
}

// Collector groups files by directory and drives them from fsnotify
type Collector struct {
	opts    Options
	state   *checkpoint.Manager
	logger  *logging.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	groups   map[string]*tailer.WatchGroup
	cleanups []cleanupHook
	started  bool

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	dumpMu   sync.Mutex
	dumpedAt time.Time
	dumpErr  error
}

// New creates a collector and loads the persisted state. A missing or
// malformed state file is not an error; tracking starts fresh.
func New(opts Options, logger *logging.Logger, m *metrics.Collector) (*Collector, error) {
	if opts.DumpInterval <= 0 {
		opts.DumpInterval = DefaultDumpInterval
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 30 * time.Second
	}

	state, err := checkpoint.NewManager(opts.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}

	c := &Collector{
		opts:    opts,
		state:   state,
		logger:  logging.OrNop(logger).WithComponent("collector"),
		metrics: m,
		groups:  make(map[string]*tailer.WatchGroup),
	}

	if err := state.Load(); err != nil {
		c.logger.Warn().Err(err).Str("state_file", state.Path()).Msg("Failed to load state, starting fresh")
	}
	return c, nil
}

// State returns the persisted position of path, if any. Build uses it to
// seed new files.
func (c *Collector) State(path string) *types.FilePosition {
	pos, ok := c.state.Position(path)
	if !ok {
		return nil
	}
	return &pos
}

// Add registers a file with the group of its directory
func (c *Collector) Add(f *tailer.FileTail) {
	dir := filepath.Dir(f.Path())

	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[dir]
	if !ok {
		g = tailer.NewWatchGroup(dir)
		c.groups[dir] = g
	}
	g.Add(f)
}

// AddCleanup registers fn to run with every cleanup pass
func (c *Collector) AddCleanup(name string, fn CleanupFunc) {
	c.mu.Lock()
	c.cleanups = append(c.cleanups, cleanupHook{name: name, fn: fn})
	c.mu.Unlock()
}

// Files returns every tracked file ordered by path
func (c *Collector) Files() []*tailer.FileTail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*tailer.FileTail
	for _, g := range c.groups {
		out = append(out, g.Files()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Start watches every group directory, opens the files and starts the
// background loops
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("collector already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	for dir := range c.groups {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			c.mu.Unlock()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		c.logger.Debug().Str("dir", dir).Msg("Watching directory")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.watcher = watcher
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	for _, f := range c.Files() {
		if err := f.Open(ctx); err != nil {
			c.logger.Warn().Err(err).Str("path", f.Path()).Msg("Failed to open file, waiting for it to appear")
		}
	}

	c.wg.Add(3)
	go c.watchLoop(loopCtx)
	go c.dumpLoop(loopCtx)
	go c.cleanupLoop(loopCtx)

	c.logger.Info().Int("files", len(c.Files())).Msg("Collector started")
	return nil
}

// Stop stops dispatching events and the background loops
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
}

// Join waits for in-flight event handling to finish, then dumps the state
// and flushes every output one last time
func (c *Collector) Join(ctx context.Context) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	dumpErr := c.DumpState()
	c.FlushOutput(ctx)
	for _, f := range c.Files() {
		f.Close()
	}
	c.logger.Info().Msg("Collector stopped")
	return dumpErr
}

// DumpState writes the position of every file to the state file. A write
// failure is logged and returned.
func (c *Collector) DumpState() error {
	files := c.Files()
	_, span := tracing.TraceStateDump(context.Background(), len(files))
	defer span.End()

	positions := make([]types.FilePosition, 0, len(files))
	for _, f := range files {
		positions = append(positions, f.Position())
	}

	err := c.state.Save(positions)
	c.metrics.StateDump(err, len(positions))
	c.dumpMu.Lock()
	c.dumpedAt, c.dumpErr = time.Now(), err
	c.dumpMu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Str("state_file", c.state.Path()).Msg("Failed to dump state")
		return err
	}
	return nil
}

// LastDump returns the time and outcome of the last state dump
func (c *Collector) LastDump() (time.Time, error) {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	return c.dumpedAt, c.dumpErr
}

// FlushOutput commits every output once, whatever its buffer holds
func (c *Collector) FlushOutput(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FlushTimeout)
	defer cancel()

	for _, out := range c.outputs() {
		if err := out.Commit(ctx); err != nil {
			c.logger.Warn().Err(err).Str("output", out.Name()).Msg("Failed to flush output")
		}
	}
}

// outputs returns the distinct buffering outputs of all files
func (c *Collector) outputs() []committer {
	seen := make(map[string]bool)
	var out []committer
	for _, f := range c.Files() {
		cm, ok := f.Output().(committer)
		if !ok || seen[cm.Name()] {
			continue
		}
		seen[cm.Name()] = true
		out = append(out, cm)
	}
	return out
}

// Cleanup applies retention to every file and runs the cleanup hooks. A
// failure does not stop the pass; the failures are returned joined.
func (c *Collector) Cleanup(ctx context.Context) error {
	var errs []error
	for _, f := range c.Files() {
		if err := f.Cleanup(ctx); err != nil {
			c.logger.Warn().Err(err).Str("path", f.Path()).Msg("Cleanup failed")
			errs = append(errs, fmt.Errorf("%s: %w", f.Path(), err))
		}
	}

	c.mu.RLock()
	hooks := append([]cleanupHook(nil), c.cleanups...)
	c.mu.RUnlock()
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			c.logger.Warn().Err(err).Str("hook", h.name).Msg("Cleanup failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Collector) watchLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(ctx, event)

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error().Err(err).Msg("File watcher error")

		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) handleEvent(ctx context.Context, event fsnotify.Event) {
	c.mu.RLock()
	g, ok := c.groups[filepath.Dir(event.Name)]
	c.mu.RUnlock()
	if !ok {
		return
	}
	g.Dispatch(ctx, event)
}

// dumpLoop persists the state and flushes the outputs every dump interval
func (c *Collector) dumpLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DumpState()
			c.FlushOutput(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// cleanupLoop runs a cleanup pass at start and then every cleanup interval
func (c *Collector) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	_ = c.Cleanup(ctx)

	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(ctx)
		case <-ctx.Done():
			return
		}
	}
}
