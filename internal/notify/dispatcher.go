package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// Record fields written by enrichment
const (
	HostnameField = "hostname"
	CountryField  = "country"
)

// Enricher looks up facts about an address
type Enricher interface {
	Hostname(ctx context.Context, addr string) (string, bool)
	Country(ctx context.Context, addr string) (string, bool)
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	Logger   *logging.Logger
	Metrics  *metrics.Collector
	Enricher Enricher

	// AddressField is the record field enrichment looks up, ip_address by
	// default
	AddressField string
}

// Dispatcher routes records to notifiers by name
type Dispatcher struct {
	logger       *logging.Logger
	metrics      *metrics.Collector
	enricher     Enricher
	addressField string

	mu        sync.RWMutex
	notifiers map[string]*Notifier
}

// NewDispatcher creates a dispatcher over notifiers
func NewDispatcher(cfg DispatcherConfig, notifiers ...*Notifier) *Dispatcher {
	if cfg.AddressField == "" {
		cfg.AddressField = "ip_address"
	}
	d := &Dispatcher{
		logger:       logging.OrNop(cfg.Logger).WithComponent("notify"),
		metrics:      cfg.Metrics,
		enricher:     cfg.Enricher,
		addressField: cfg.AddressField,
		notifiers:    make(map[string]*Notifier, len(notifiers)),
	}
	for _, n := range notifiers {
		d.notifiers[n.Name] = n
	}
	return d
}

// Add registers a notifier, replacing one of the same name
func (d *Dispatcher) Add(n *Notifier) {
	d.mu.Lock()
	d.notifiers[n.Name] = n
	d.mu.Unlock()
}

// Get returns the notifier called name
func (d *Dispatcher) Get(name string) (*Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch enriches rec as the notifier requests, renders it and sends it
// with kind as the rate-limit key. A suppressed message returns
// ErrRateLimited.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rec types.Record, kind string) error {
	n, ok := d.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownName, name)
	}

	ctx, span := tracing.TraceNotify(ctx, n.Name, n.Type)
	defer span.End()

	msg, err := Render(d.enrich(ctx, n, rec), n.Format())
	if err != nil {
		return fmt.Errorf("failed to render for %s: %w", name, err)
	}

	start := time.Now()
	err = n.Send(ctx, msg, kind)
	switch {
	case errors.Is(err, ErrRateLimited):
		d.metrics.Notification(n.Name, "suppressed", 0)
		d.logger.Debug().Str("notifier", n.Name).Str("kind", kind).Msg("Notification suppressed by rate limit")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.Notification(n.Name, "failed", time.Since(start))
	default:
		d.metrics.Notification(n.Name, "sent", time.Since(start))
		d.logger.Debug().Str("notifier", n.Name).Str("kind", kind).Msg("Notification sent")
	}
	return err
}

// enrich returns rec with hostname and country added when the notifier
// asks for them and they are not already present
func (d *Dispatcher) enrich(ctx context.Context, n *Notifier, rec types.Record) types.Record {
	if d.enricher == nil || (!n.ResolveIP && !n.FindCountry) {
		return rec
	}
	addr := types.FormatValue(rec[d.addressField])
	if addr == "" {
		return rec
	}

	added := make(map[string]string, 2)
	if n.ResolveIP {
		if _, present := rec[HostnameField]; !present {
			if host, ok := d.enricher.Hostname(ctx, addr); ok {
				added[HostnameField] = host
			}
		}
	}
	if n.FindCountry {
		if _, present := rec[CountryField]; !present {
			if country, ok := d.enricher.Country(ctx, addr); ok {
				added[CountryField] = country
			}
		}
	}
	if len(added) == 0 {
		return rec
	}

	out := rec.Clone()
	for k, v := range added {
		out[k] = v
	}
	return out
}

// Cleanup runs retention on every notifier that stores messages
func (d *Dispatcher) Cleanup(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error
	for _, n := range d.notifiers {
		if !n.HasCleanup() {
			continue
		}
		deleted, err := n.Cleanup(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", n.Name, err))
			continue
		}
		if deleted > 0 {
			d.logger.Info().Str("notifier", n.Name).Int64("deleted", deleted).Msg("Removed expired notifications")
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for _, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}
