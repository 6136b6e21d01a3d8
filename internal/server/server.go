// Package server exposes the metrics and health endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/health"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/profiling"
)

// Server provides HTTP endpoints for metrics and health checks. Metrics
// and health share one listener when they are configured on the same
// address.
type Server struct {
	servers []*http.Server
	bound   []string
	logger  *logging.Logger
}

// Config holds server configuration
type Config struct {
	MetricsAddress  string
	MetricsPath     string
	HealthAddress   string
	LivenessPath    string
	ReadinessPath   string
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger

	// Profiler, when set, serves pprof on its configured address
	Profiler *profiling.Profiler
}

// New creates a new server
func New(cfg Config) *Server {
	s := &Server{logger: logging.OrNop(cfg.Logger).WithComponent("server")}
	muxes := make(map[string]*http.ServeMux)
	mux := func(addr string) *http.ServeMux {
		if m, ok := muxes[addr]; ok {
			return m
		}
		m := http.NewServeMux()
		muxes[addr] = m
		s.servers = append(s.servers, &http.Server{
			Addr:         addr,
			Handler:      m,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
		return m
	}

	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux(cfg.MetricsAddress).Handle(metricsPath, promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		livenessPath := cfg.LivenessPath
		if livenessPath == "" {
			livenessPath = "/health/live"
		}
		readinessPath := cfg.ReadinessPath
		if readinessPath == "" {
			readinessPath = "/health/ready"
		}

		m := mux(cfg.HealthAddress)
		m.HandleFunc(livenessPath, cfg.HealthChecker.LivenessHandler())
		m.HandleFunc(readinessPath, cfg.HealthChecker.ReadinessHandler())
		m.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())
	}

	if cfg.Profiler != nil {
		cfg.Profiler.Register(mux(cfg.Profiler.Address()))
	}

	return s
}

// Addrs returns the bound addresses once started, the configured ones
// before
func (s *Server) Addrs() []string {
	if len(s.bound) > 0 {
		return append([]string(nil), s.bound...)
	}
	out := make([]string, len(s.servers))
	for i, srv := range s.servers {
		out[i] = srv.Addr
	}
	return out
}

// Start binds every listener and serves in the background. A bind error
// is returned immediately.
func (s *Server) Start() error {
	for _, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		s.bound = append(s.bound, ln.Addr().String())
		s.logger.Info().Str("address", ln.Addr().String()).Msg("Starting HTTP server")

		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Str("address", srv.Addr).Msg("HTTP server failed")
			}
		}(srv, ln)
	}
	return nil
}

// Stop gracefully shuts down the servers
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		s.logger.Info().Str("address", srv.Addr).Msg("Shutting down HTTP server")
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Str("address", srv.Addr).Msg("Error shutting down HTTP server")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
