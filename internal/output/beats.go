package output

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lumberjack "github.com/elastic/go-lumber/client/v2"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// BeatsConfig configures forwarding to a beats (lumberjack v2) listener
type BeatsConfig struct {
	// Address is host:port of the logstash or beats receiver
	Address string `yaml:"address"`

	// CompressionLevel is the zlib level, 0 disables compression
	CompressionLevel int `yaml:"compression_level,omitempty"`

	// Timeout bounds dialing and each acknowledged send
	Timeout time.Duration `yaml:"timeout,omitempty"`

	TLS *security.TLSConfig `yaml:"tls,omitempty"`
}

// Validate checks the beats configuration
func (c BeatsConfig) Validate() error {
	if c.Address == "" {
		return errors.New("beats: no address specified")
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("beats: compression level %d out of range", c.CompressionLevel)
	}
	return nil
}

// Beats forwards records as lumberjack events
type Beats struct {
	config BeatsConfig
	tls    *tls.Config

	mu     sync.Mutex
	client *lumberjack.SyncClient
}

// NewBeats creates a beats backend. The connection is made on Connect.
func NewBeats(config BeatsConfig) (*Beats, error) {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	tlsConfig, err := security.LoadTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("beats: %w", err)
	}
	return &Beats{config: config, tls: tlsConfig}, nil
}

// Connect dials the receiver, replacing any previous connection
func (b *Beats) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}

	opts := []lumberjack.Option{
		lumberjack.CompressionLevel(b.config.CompressionLevel),
		lumberjack.Timeout(b.config.Timeout),
	}
	var (
		client *lumberjack.SyncClient
		err    error
	)
	if b.tls != nil {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: b.config.Timeout}, Config: b.tls}
		client, err = lumberjack.SyncDialWith(func(network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		}, b.config.Address, opts...)
	} else {
		client, err = lumberjack.SyncDial(b.config.Address, opts...)
	}
	if err != nil {
		return fmt.Errorf("failed connection to beats server: %w", err)
	}
	b.client = client
	return nil
}

// Send transmits the batch and waits for its acknowledgement
func (b *Beats) Send(ctx context.Context, recs []types.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return errors.New("beats client not connected")
	}

	events := make([]interface{}, len(recs))
	for i, rec := range recs {
		events[i] = beatsEvent(rec)
	}

	sent, err := b.client.Send(events)
	if err != nil {
		return fmt.Errorf("failed to send to beats server: %w", err)
	}
	if sent != len(events) {
		return fmt.Errorf("beats server acknowledged %d of %d events", sent, len(events))
	}
	return nil
}

// beatsEvent maps a record onto the fields beats receivers expect
func beatsEvent(rec types.Record) map[string]interface{} {
	fields := make(map[string]interface{}, len(rec)+1)
	for k, v := range rec {
		if t, ok := v.(time.Time); ok {
			fields[k] = t.UTC().Format(time.RFC3339Nano)
			continue
		}
		fields[k] = v
	}

	ts, ok := docstore.RecordTime(rec)
	if !ok {
		ts = time.Now()
	}
	fields["@timestamp"] = ts.UTC().Format(time.RFC3339Nano)
	return fields
}

// Close closes the connection
func (b *Beats) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}
