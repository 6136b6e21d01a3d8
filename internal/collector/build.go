package collector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/condition"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/config"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/enrich"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/extract"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/health"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/notify"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/output"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tailer"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/vars"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// Version is exposed to templates as $version
var Version = "dev"

// Runtime holds the long-lived components Build creates besides the
// collector
type Runtime struct {
	Sinks      map[string]output.Sink
	Dispatcher *notify.Dispatcher
	Health     *health.Checker
	Vars       *vars.Table
}

// Close closes every sink and notifier
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	for name, sink := range r.Sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", name, err))
		}
	}
	if r.Dispatcher != nil {
		if err := r.Dispatcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires a collector from cfg. Pattern and configuration errors are
// returned; outputs that cannot connect yet are only logged and retried
// on their next commit.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Collector) (*Collector, *Runtime, error) {
	logger = logging.OrNop(logger)
	col := cfg.Collector

	c, err := New(Options{
		StateFile:       col.StateFile,
		DumpInterval:    col.DumpInterval,
		CleanupInterval: col.CleanupInterval,
		FlushTimeout:    col.CommitTimeout,
	}, logger, m)
	if err != nil {
		return nil, nil, err
	}

	rt := &Runtime{
		Sinks:  make(map[string]output.Sink, len(cfg.Outputs)),
		Health: health.NewChecker(healthTimeout(cfg)),
		Vars:   vars.New(Version),
	}
	rt.Health.OnResult = m.SetHealth

	local, err := condition.NewLocalAddresses(col.LocalRanges...)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid local ranges: %w", err)
	}
	if col.LocalRangesFile != "" {
		if err := local.LoadFile(col.LocalRangesFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load local ranges: %w", err)
		}
	}

	enricher, err := enrich.New(enrich.Config{
		HostnamesFile: col.HostnamesFile,
		CountriesFile: col.CountriesFile,
		ReverseDNS:    col.ReverseDNS,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	dispatcher, err := buildDispatcher(cfg, enricher, logger, m)
	if err != nil {
		return nil, nil, err
	}
	rt.Dispatcher = dispatcher
	c.AddCleanup("notifiers", dispatcher.Cleanup)

	for _, oc := range cfg.Outputs {
		sink, err := output.New(oc, output.Options{Logger: logger, Metrics: m})
		if err != nil {
			rt.Close(ctx)
			return nil, nil, err
		}
		connect(ctx, sink, col.ConnectRetries, logger)
		rt.Sinks[oc.Name] = sink
		rt.Health.Register("output:"+oc.Name, health.SinkCheck(sink.Type(), sink.Stats))
	}
	rt.Health.Register("state", health.DumpCheck(c.LastDump))

	var records *metrics.RecordMetrics
	if cfg.Metrics != nil && len(cfg.Metrics.Records) > 0 && m != nil {
		if records, err = m.NewRecordMetrics(cfg.Metrics.Records); err != nil {
			rt.Close(ctx)
			return nil, nil, err
		}
	}

	cache := condition.NewSeenCache(col.CacheSize)
	for _, fc := range cfg.Files {
		sink := rt.Sinks[fc.Output]
		matcher := condition.NewMatcher(condition.MatcherConfig{
			Sink:   sink.Name(),
			Store:  sink,
			Local:  local,
			Cache:  cache,
			Logger: logger,
		})

		processors := make([]tailer.Processor, 0, len(fc.Filters))
		for i, filter := range fc.Filters {
			ex, err := extract.New(filter, extract.Deps{
				Vars:       rt.Vars,
				Matcher:    matcher,
				Dispatcher: dispatcher,
				Logger:     logger,
				Metrics:    m,
			})
			if err != nil {
				rt.Close(ctx)
				return nil, nil, fmt.Errorf("file %s filter %d: %w", fc.Path, i, err)
			}
			processors = append(processors, observe(ex, records))
		}

		abs, err := filepath.Abs(fc.Path)
		if err != nil {
			rt.Close(ctx)
			return nil, nil, fmt.Errorf("failed to resolve %s: %w", fc.Path, err)
		}
		f, err := tailer.New(tailer.Config{
			Path:       abs,
			Name:       fc.Name,
			Retention:  fc.Retention,
			Processors: processors,
			Output:     sink,
			State:      c.State(abs),
			Logger:     logger,
			Metrics:    m,
		})
		if err != nil {
			rt.Close(ctx)
			return nil, nil, err
		}
		c.Add(f)
	}

	return c, rt, nil
}

// buildDispatcher creates the notifiers. A notifier a filter refers to
// must build; any other one that fails is skipped with a warning.
func buildDispatcher(cfg *config.Config, enricher notify.Enricher, logger *logging.Logger, m *metrics.Collector) (*notify.Dispatcher, error) {
	referenced := cfg.Referenced()
	d := notify.NewDispatcher(notify.DispatcherConfig{
		Logger:   logger,
		Metrics:  m,
		Enricher: enricher,
	})

	for _, nc := range cfg.Notifiers {
		n, err := notify.New(nc)
		if err != nil {
			if referenced[nc.Name] {
				d.Close()
				return nil, fmt.Errorf("notifier %s: %w", nc.Name, err)
			}
			logger.Warn().Err(err).Str("notifier", nc.Name).Msg("Skipping unusable notifier no filter refers to")
			continue
		}
		d.Add(n)
	}
	return d, nil
}

// connect tries to reach the backend at startup. Failure is not fatal:
// the sink reconnects on its next commit.
func connect(ctx context.Context, sink output.Sink, retries int, logger *logging.Logger) {
	err := reliability.Retry(ctx, reliability.RetryConfig{
		MaxRetries:     retries,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         true,
	}, sink.Connect)
	if err != nil {
		logger.Warn().Err(err).Str("output", sink.Name()).Msg("Output not reachable, records stay buffered")
	}
}

func healthTimeout(cfg *config.Config) time.Duration {
	if cfg.Health != nil {
		return cfg.Health.Timeout
	}
	return 0
}

// observedProcessor feeds the records of a processor to the record metrics
type observedProcessor struct {
	tailer.Processor
	records *metrics.RecordMetrics
}

func observe(p tailer.Processor, records *metrics.RecordMetrics) tailer.Processor {
	if records == nil {
		return p
	}
	return observedProcessor{Processor: p, records: records}
}

func (o observedProcessor) Process(ctx context.Context, line, source string) (types.Record, bool) {
	rec, ok := o.Processor.Process(ctx, line, source)
	if ok {
		o.records.Observe(source, rec)
	}
	return rec, ok
}
