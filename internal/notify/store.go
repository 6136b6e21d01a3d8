package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/parser"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// StoreOpener opens the document store a store channel writes to
type StoreOpener func(ctx context.Context) (docstore.Store, error)

// Store keeps every notification as a document
type Store struct {
	kind      string
	open      StoreOpener
	retention int
	now       func() time.Time

	mu    sync.Mutex
	store docstore.Store
}

// NewStore creates a store channel; retention days of 0 keeps documents
// forever
func NewStore(kind string, open StoreOpener, retention int) *Store {
	return &Store{kind: kind, open: open, retention: retention, now: time.Now}
}

func (s *Store) Format() Format { return FormatJSON }

func (s *Store) connect(ctx context.Context) (docstore.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	store, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

func (s *Store) reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		s.store.Close(ctx)
		s.store = nil
	}
}

// Send decodes the JSON message, restores its timestamp and stores it
func (s *Store) Send(ctx context.Context, msg string) error {
	var fields map[string]any
	if err := json.Unmarshal([]byte(msg), &fields); err != nil {
		return deliveryErr(s.kind, fmt.Errorf("message is not a JSON object: %w", err))
	}

	doc := types.Record(fields)
	if raw, ok := fields[docstore.TimestampField].(string); ok {
		ts, err := parser.ParseISO8601(raw)
		if err != nil {
			return deliveryErr(s.kind, err)
		}
		doc[docstore.TimestampField] = ts
	} else {
		doc[docstore.TimestampField] = s.now()
	}

	store, err := s.connect(ctx)
	if err != nil {
		return deliveryErr(s.kind, err)
	}
	if err := store.InsertMany(ctx, []types.Record{doc}); err != nil {
		s.reset(ctx)
		return deliveryErr(s.kind, err)
	}
	return nil
}

// Cleanup removes stored notifications past retention
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	store, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	return store.DeleteOlderThan(ctx, docstore.AllSources, docstore.Cutoff(s.now(), s.retention))
}

func (s *Store) Close() error {
	s.reset(context.Background())
	return nil
}
