package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/collector"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/config"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/profiling"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/server"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/shutdown"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tracing"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

var (
	configFile = flag.String("config", "/etc/logsentry/config.yaml", "Path to configuration file")
	checkOnly  = flag.Bool("check", false, "Validate the configuration and exit")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *checkOnly {
		fmt.Printf("%s: configuration ok\n", *configFile)
		return nil
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.SetGlobal(logger)

	logger.Info().Str("version", version).Int("files", len(cfg.Files)).Msg("Starting logsentry")
	for _, name := range cfg.Unreferenced() {
		logger.Warn().Str("notifier", name).Msg("Notifier is not used by any filter")
	}

	ctx := context.Background()
	tracing.Version = version
	collector.Version = version

	var tracer *tracing.Provider
	if cfg.Tracing != nil {
		tracer, err = tracing.NewProvider(ctx, *cfg.Tracing)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
	}

	m := metrics.NewCollector()
	c, rt, err := collector.Build(ctx, cfg, logger, m)
	if err != nil {
		tracer.Shutdown(ctx)
		return err
	}

	srvCfg := server.Config{Logger: logger}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		srvCfg.MetricsAddress = cfg.Metrics.Address
		srvCfg.MetricsPath = cfg.Metrics.Path
		srvCfg.MetricsRegistry = m.Registry()
	}
	if cfg.Health != nil && cfg.Health.Enabled {
		srvCfg.HealthAddress = cfg.Health.Address
		srvCfg.LivenessPath = cfg.Health.LivenessPath
		srvCfg.ReadinessPath = cfg.Health.ReadinessPath
		srvCfg.HealthChecker = rt.Health
	}
	var profiler *profiling.Profiler
	if cfg.Profiling != nil && cfg.Profiling.Enabled {
		profiler = profiling.New(*cfg.Profiling, logger)
		profiler.Stats = func() map[string]any {
			sinks := make(map[string]any, len(rt.Sinks))
			for name, sink := range rt.Sinks {
				sinks[name] = sink.Stats()
			}
			var files []types.FilePosition
			for _, f := range c.Files() {
				files = append(files, f.Position())
			}
			return map[string]any{"files": files, "outputs": sinks}
		}
		srvCfg.Profiler = profiler
	}
	srv := server.New(srvCfg)

	sm := shutdown.New(shutdown.Config{
		Timeout: cfg.Collector.ShutdownTimeout,
		Logger:  logger,
	})
	sm.RegisterFunc("collector", func(ctx context.Context) error {
		c.Stop()
		if err := c.Join(ctx); !errors.Is(err, collector.ErrNotStarted) {
			return err
		}
		return nil
	})
	sm.RegisterFunc("outputs", rt.Close)
	sm.RegisterFunc("servers", srv.Stop)
	sm.RegisterFunc("metrics", func(context.Context) error {
		m.Stop()
		return nil
	})
	sm.RegisterFunc("tracing", tracer.Shutdown)
	if profiler != nil {
		sm.RegisterFunc("profiling", func(context.Context) error {
			return profiler.Stop()
		})
	}

	m.Start()
	if profiler != nil {
		profiler.Start()
	}
	if err := srv.Start(); err != nil {
		sm.Shutdown()
		return err
	}
	if err := c.Start(ctx); err != nil {
		sm.Shutdown()
		return fmt.Errorf("failed to start collector: %w", err)
	}

	return sm.WaitForSignal(ctx)
}
