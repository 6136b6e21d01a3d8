package tailer

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WatchGroup holds the files of one directory and routes filesystem
// events to them by path
type WatchGroup struct {
	dir string

	mu    sync.RWMutex
	files map[string]*FileTail
}

// NewWatchGroup creates an empty group for dir
func NewWatchGroup(dir string) *WatchGroup {
	return &WatchGroup{dir: filepath.Clean(dir), files: make(map[string]*FileTail)}
}

// Dir returns the watched directory
func (g *WatchGroup) Dir() string { return g.dir }

// Add registers a file of the directory
func (g *WatchGroup) Add(f *FileTail) {
	g.mu.Lock()
	g.files[f.Path()] = f
	g.mu.Unlock()
}

// Get returns the file at path
func (g *WatchGroup) Get(path string) (*FileTail, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.files[filepath.Clean(path)]
	return f, ok
}

// Files returns the files of the group ordered by path
func (g *WatchGroup) Files() []*FileTail {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*FileTail, 0, len(g.files))
	for _, f := range g.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Dispatch hands event to the file it names. Events for untracked paths
// are ignored. It reports whether a file handled the event.
func (g *WatchGroup) Dispatch(ctx context.Context, event fsnotify.Event) bool {
	f, ok := g.Get(event.Name)
	if !ok {
		return false
	}

	switch {
	case event.Has(fsnotify.Remove):
		f.OnDeleted(ctx)
	case event.Has(fsnotify.Rename):
		f.OnMoved(ctx)
	case event.Has(fsnotify.Create):
		f.OnCreated(ctx)
	case event.Has(fsnotify.Write), event.Has(fsnotify.Chmod):
		// fsnotify has no close-after-write event; chmod takes its place
		f.OnModified(ctx)
	default:
		return false
	}
	return true
}
