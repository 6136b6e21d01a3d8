// Package tailer follows growing log files across rotation and truncation.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// ErrFileAccess is returned when a watched file cannot be opened
var ErrFileAccess = errors.New("file not accessible")

// Processor turns one line into a record
type Processor interface {
	Process(ctx context.Context, line, source string) (types.Record, bool)
}

// Output receives the records of a file
type Output interface {
	Name() string
	Write(ctx context.Context, rec types.Record) error
	Cleanup(ctx context.Context, source string, retentionDays int) (int64, error)
}

// Config describes one watched file
type Config struct {
	Path string
	// Name is the logical source name written to every record
	Name       string
	Retention  int
	Processors []Processor
	Output     Output

	// State seeds the offset and identity, usually from the state file
	State *types.FilePosition

	Logger  *logging.Logger
	Metrics *metrics.Collector
}

// FileTail is the state machine of one watched file. It is CLOSED while
// file is nil and OPEN otherwise.
type FileTail struct {
	path       string
	name       string
	retention  int
	processors []Processor
	output     Output
	logger     *logging.Logger
	metrics    *metrics.Collector

	// mu serializes event handling
	mu      sync.Mutex
	file    *os.File
	reader  *bufio.Reader
	partial strings.Builder

	// posMu guards the persisted position
	posMu  sync.RWMutex
	offset int64
	inode  uint64
	device uint64
}

// New creates a closed FileTail. Call Open to start reading.
func New(cfg Config) (*FileTail, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("file %s has no output", cfg.Path)
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Path, err)
	}

	name := cfg.Name
	if name == "" {
		name = filepath.Base(path)
	}

	f := &FileTail{
		path:       path,
		name:       name,
		retention:  cfg.Retention,
		processors: cfg.Processors,
		output:     cfg.Output,
		logger:     logging.OrNop(cfg.Logger).WithComponent("tailer").WithFile(path, name),
		metrics:    cfg.Metrics,
	}
	if cfg.State != nil {
		f.offset = cfg.State.Pos
		f.inode = cfg.State.Inode
		f.device = cfg.State.Device
	}
	return f, nil
}

// Path returns the absolute path of the file
func (f *FileTail) Path() string { return f.path }

// Name returns the logical source name
func (f *FileTail) Name() string { return f.name }

// Output returns the sink the records go to
func (f *FileTail) Output() Output { return f.output }

// Position returns the current offset and identity
func (f *FileTail) Position() types.FilePosition {
	f.posMu.RLock()
	defer f.posMu.RUnlock()
	return types.FilePosition{Pos: f.offset, Path: f.path, Inode: f.inode, Device: f.device}
}

// IsOpen reports whether the file is currently open
func (f *FileTail) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file != nil
}

func (f *FileTail) setPosition(offset int64, inode, device uint64) {
	f.posMu.Lock()
	f.offset, f.inode, f.device = offset, inode, device
	f.posMu.Unlock()
}

func (f *FileTail) advance(n int) {
	f.posMu.Lock()
	f.offset += int64(n)
	f.posMu.Unlock()
}

// Open opens the file and reads everything past the known offset
func (f *FileTail) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openLocked(); err != nil {
		return err
	}
	f.readLocked(ctx)
	return nil
}

// OnModified reads newly appended lines. A closed file is opened first.
func (f *FileTail) OnModified(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		if err := f.openLocked(); err != nil {
			f.logger.Debug().Err(err).Msg("File still not accessible")
			return
		}
	} else {
		f.checkTruncatedLocked()
	}
	f.readLocked(ctx)
}

// OnCreated (re)opens the file and reads it
func (f *FileTail) OnCreated(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	if err := f.openLocked(); err != nil {
		f.logger.Info().Err(err).Msg("Cannot open created file")
		return
	}
	f.readLocked(ctx)
}

// OnDeleted drains the remaining lines, closes the file and tries to open
// whatever now lives at the path
func (f *FileTail) OnDeleted(ctx context.Context) {
	f.reopen(ctx, "deleted")
}

// OnMoved behaves like OnDeleted
func (f *FileTail) OnMoved(ctx context.Context) {
	f.reopen(ctx, "moved")
}

func (f *FileTail) reopen(ctx context.Context, why string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readLocked(ctx)
	f.closeLocked()
	f.logger.Info().Str("event", why).Msg("File went away, reopening")
	if err := f.openLocked(); err != nil {
		f.logger.Info().Err(err).Msg("Cannot reopen file yet")
		return
	}
	f.readLocked(ctx)
}

// Cleanup applies the retention of this file to its output
func (f *FileTail) Cleanup(ctx context.Context) error {
	if f.retention <= 0 {
		return nil
	}
	_, err := f.output.Cleanup(ctx, f.name, f.retention)
	return err
}

// Close closes the file handle, keeping the position
func (f *FileTail) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

// openLocked opens the path and positions the reader. The known offset is
// kept only when the identity still matches and the file is not shorter.
func (f *FileTail) openLocked() error {
	f.partial.Reset()

	file, err := os.Open(f.path)
	if err != nil {
		f.metrics.OpenError(f.name)
		f.setPosition(f.Position().Pos, 0, 0)
		return fmt.Errorf("%w: %s: %w", ErrFileAccess, f.path, err)
	}

	inode, device, size, err := identity(file)
	if err != nil {
		file.Close()
		f.metrics.OpenError(f.name)
		return fmt.Errorf("%w: %s: %w", ErrFileAccess, f.path, err)
	}

	known := f.Position()
	offset := known.Pos
	switch {
	case known.Inode != inode || known.Device != device:
		if known.Inode != 0 {
			f.metrics.Rotation(f.name, "rotated")
			f.logger.Info().Uint64("inode", inode).Msg("File looks different, starting from the beginning")
		}
		offset = 0
	case size < offset:
		f.metrics.Rotation(f.name, "truncated")
		f.logger.Info().Int64("size", size).Int64("offset", offset).Msg("File was truncated, starting from the beginning")
		offset = 0
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		f.metrics.OpenError(f.name)
		return fmt.Errorf("%w: %s: %w", ErrFileAccess, f.path, err)
	}

	f.file = file
	f.reader = bufio.NewReader(file)
	f.setPosition(offset, inode, device)
	f.metrics.FileOpened(1)
	f.logger.Debug().Int64("offset", offset).Msg("Opened file")
	return nil
}

// checkTruncatedLocked rewinds an open file that became shorter than what
// was already read
func (f *FileTail) checkTruncatedLocked() {
	info, err := f.file.Stat()
	if err != nil {
		return
	}
	pos := f.Position()
	if info.Size() >= pos.Pos+int64(f.partial.Len()) {
		return
	}
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to rewind truncated file")
		return
	}
	f.metrics.Rotation(f.name, "truncated")
	f.logger.Info().Int64("size", info.Size()).Int64("offset", pos.Pos).Msg("File was truncated, starting from the beginning")
	f.reader.Reset(f.file)
	f.partial.Reset()
	f.setPosition(0, pos.Inode, pos.Device)
}

func (f *FileTail) closeLocked() {
	if f.file == nil {
		return
	}
	f.file.Close()
	f.file = nil
	f.reader = nil
	f.partial.Reset()
	f.metrics.FileOpened(-1)
}

// readLocked processes every complete line available. Trailing bytes
// without a newline are kept and prefixed to the next read; the offset
// only covers complete lines.
func (f *FileTail) readLocked(ctx context.Context) {
	if f.file == nil {
		return
	}
	for ctx.Err() == nil {
		chunk, err := f.reader.ReadString('\n')
		if len(chunk) > 0 {
			if chunk[len(chunk)-1] != '\n' {
				f.partial.WriteString(chunk)
			} else {
				line := chunk
				if f.partial.Len() > 0 {
					line = f.partial.String() + chunk
					f.partial.Reset()
				}
				f.processLine(ctx, line)
				f.advance(len(line))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.logger.Warn().Err(err).Msg("Error reading file")
			}
			return
		}
	}
}

func (f *FileTail) processLine(ctx context.Context, line string) {
	f.metrics.LineRead(f.name, len(line))
	text := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

	for _, p := range f.processors {
		rec, ok := p.Process(ctx, text, f.name)
		if !ok {
			continue
		}
		if err := f.output.Write(ctx, rec); err != nil {
			f.logger.Warn().Err(err).Str("output", f.output.Name()).Msg("Failed to write record")
		}
	}
}

// identity returns the inode, device and size of an open file
func identity(file *os.File) (inode, device uint64, size int64, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &st); err != nil {
		return 0, 0, 0, err
	}
	return uint64(st.Ino), uint64(st.Dev), st.Size, nil
}
