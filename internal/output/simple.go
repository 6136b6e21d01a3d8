package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// Stdout prints records as newline-delimited JSON
type Stdout struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdout creates a console backend writing to w, or os.Stdout when w
// is nil
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{out: w}
}

func (s *Stdout) Connect(ctx context.Context) error { return nil }

func (s *Stdout) Send(ctx context.Context, recs []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.out)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	return nil
}

func (s *Stdout) Close(ctx context.Context) error { return nil }

// Discard drops every record
type Discard struct{}

func (Discard) Connect(ctx context.Context) error                   { return nil }
func (Discard) Send(ctx context.Context, recs []types.Record) error { return nil }
func (Discard) Close(ctx context.Context) error                     { return nil }
