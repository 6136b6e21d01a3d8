// Package checkpoint persists the read positions of tailed files.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// ErrMalformed is returned by Load for a state file that cannot be decoded
var ErrMalformed = errors.New("malformed state file")

// Manager reads and writes the state file, a JSON array of
// {pos, path, inode, device} objects
type Manager struct {
	mu        sync.RWMutex
	path      string
	positions map[string]types.FilePosition
}

// NewManager creates a manager for the state file at path. The parent
// directory is created when missing.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Manager{path: path, positions: make(map[string]types.FilePosition)}, nil
}

// Path returns the state file path
func (m *Manager) Path() string {
	return m.path
}

// Load reads the state file. A missing file is an empty state. A malformed
// file also leaves the state empty and returns ErrMalformed so the caller
// can warn and start fresh.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]types.FilePosition)

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var entries []types.FilePosition
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, m.path, err)
	}
	for _, e := range entries {
		if e.Path == "" || e.Pos < 0 {
			continue
		}
		m.positions[e.Path] = e
	}
	return nil
}

// Position returns the persisted position of path
func (m *Manager) Position(path string) (types.FilePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[path]
	return pos, ok
}

// Len returns the number of known positions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Save replaces the state with positions and writes it out. The file is
// written to a temporary name first and renamed into place.
func (m *Manager) Save(positions []types.FilePosition) error {
	sorted := make([]types.FilePosition, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tmpFile := m.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpFile, m.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	m.positions = make(map[string]types.FilePosition, len(sorted))
	for _, p := range sorted {
		m.positions[p.Path] = p
	}
	return nil
}
