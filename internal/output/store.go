package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// StoreOpener opens a connection to a document store
type StoreOpener func(ctx context.Context) (docstore.Store, error)

// Store commits records to a document store and answers count and
// retention queries from it
type Store struct {
	open StoreOpener

	mu    sync.Mutex
	store docstore.Store
}

// NewStore creates a document-store backend. The store is opened on Connect.
func NewStore(open StoreOpener) *Store {
	return &Store{open: open}
}

// NewStoreFrom wraps an already opened store
func NewStoreFrom(store docstore.Store) *Store {
	return &Store{
		open:  func(context.Context) (docstore.Store, error) { return store, nil },
		store: store,
	}
}

// Connect opens the store, or reopens it when a ping fails
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Ping(ctx); err == nil {
			return nil
		}
		_ = s.store.Close(ctx)
		s.store = nil
	}

	store, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	s.store = store
	return nil
}

func (s *Store) current() (docstore.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, docstore.ErrNotConnected
	}
	return s.store, nil
}

// Send inserts the batch
func (s *Store) Send(ctx context.Context, recs []types.Record) error {
	store, err := s.current()
	if err != nil {
		return err
	}
	return store.InsertMany(ctx, recs)
}

// Count returns the number of stored documents matching filter
func (s *Store) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	store, err := s.current()
	if err != nil {
		return 0, err
	}
	return store.Count(ctx, filter)
}

// DeleteOlderThan removes documents of source at or before cutoff
func (s *Store) DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	store, err := s.current()
	if err != nil {
		return 0, err
	}
	return store.DeleteOlderThan(ctx, source, cutoff)
}

// Close closes the store
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	err := s.store.Close(ctx)
	s.store = nil
	return err
}
