package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// Memory keeps documents in process memory
type Memory struct {
	mu   sync.RWMutex
	docs []types.Record
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) InsertMany(ctx context.Context, docs []types.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs = append(m.docs, d.Clone())
	}
	return nil
}

func (m *Memory) Count(ctx context.Context, filter Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, d := range m.docs {
		if filter.Matches(d) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.docs[:0]
	var deleted int64
	for _, d := range m.docs {
		ts, ok := RecordTime(d)
		if (source == AllSources || d.Name() == source) && ok && !ts.After(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(m.docs); i++ {
		m.docs[i] = nil
	}
	m.docs = kept
	return deleted, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }

// Docs returns a copy of the stored documents
func (m *Memory) Docs() []types.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Record, len(m.docs))
	for i, d := range m.docs {
		out[i] = d.Clone()
	}
	return out
}

// Len returns the number of stored documents
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
