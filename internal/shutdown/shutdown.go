// Package shutdown runs the ordered teardown of the collector on a signal.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
)

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(context.Context) error

type stage struct {
	name string
	fn   ShutdownFunc
}

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

// Manager runs registered stages one after another, in registration
// order, within a shared timeout. Later stages still run when an earlier
// one fails.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu     sync.Mutex
	stages []stage

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	err          error
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Manager{
		logger:     logging.OrNop(cfg.Logger).WithComponent("shutdown"),
		timeout:    cfg.Timeout,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// RegisterFunc appends a stage
func (m *Manager) RegisterFunc(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage{name: name, fn: fn})
}

// WaitForSignal blocks until a signal arrives, ctx is done or Shutdown is
// called elsewhere, then shuts down
func (m *Manager) WaitForSignal(ctx context.Context, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		m.logger.Info().Msg("Context done, shutting down")
	case <-m.shutdownCh:
	}
	return m.Shutdown()
}

// Shutdown runs every stage once and returns their joined errors. Later
// calls wait for the first one and return the same result.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
		m.err = m.run()
		close(m.done)
	})
	<-m.done
	return m.err
}

func (m *Manager) run() error {
	m.mu.Lock()
	stages := append([]stage(nil), m.stages...)
	m.mu.Unlock()

	m.logger.Info().Dur("timeout", m.timeout).Int("stages", len(stages)).Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for _, s := range stages {
		start := time.Now()
		if err := s.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("stage", s.name).Msg("Shutdown stage failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		m.logger.Debug().Str("stage", s.name).Dur("took", time.Since(start)).Msg("Shutdown stage completed")
	}

	if ctx.Err() != nil {
		m.logger.Warn().Dur("timeout", m.timeout).Msg("Graceful shutdown timed out")
	} else if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
	} else {
		m.logger.Info().Msg("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// Done returns a channel that is closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// ShutdownChannel returns a channel that is closed when shutdown is initiated
func (m *Manager) ShutdownChannel() <-chan struct{} {
	return m.shutdownCh
}

// WaitWithTimeout waits for shutdown to complete with a timeout
func (m *Manager) WaitWithTimeout(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.done:
		return m.err
	case <-timer.C:
		return fmt.Errorf("shutdown did not complete within %v", timeout)
	}
}
