// Package profiling serves pprof and runtime statistics on a debug
// listener.
package profiling

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
)

// Config holds profiling configuration
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`

	// MemProfilePath receives a heap profile when the collector stops
	MemProfilePath string `yaml:"mem_profile,omitempty"`
	BlockProfile   bool   `yaml:"block_profile,omitempty"`
	MutexProfile   bool   `yaml:"mutex_profile,omitempty"`
}

// DefaultAddress keeps the debug listener on loopback
const DefaultAddress = "localhost:6060"

// Profiler owns the profiling rates and the debug handlers
type Profiler struct {
	config  Config
	logger  *logging.Logger
	started time.Time

	// Stats, when set, adds collector state to /debug/stats
	Stats func() map[string]any
}

// New creates a profiler; nothing is enabled before Start
func New(config Config, logger *logging.Logger) *Profiler {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	return &Profiler{
		config: config,
		logger: logging.OrNop(logger).WithComponent("profiling"),
	}
}

// Address returns the debug listener address
func (p *Profiler) Address() string {
	return p.config.Address
}

// Start enables the configured profile rates
func (p *Profiler) Start() {
	p.started = time.Now()
	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}
	p.logger.Info().
		Str("address", p.config.Address).
		Bool("block", p.config.BlockProfile).
		Bool("mutex", p.config.MutexProfile).
		Msg("Profiling enabled")
}

// Stop resets the profile rates and writes the heap profile if configured
func (p *Profiler) Stop() error {
	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(0)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(0)
	}
	if p.config.MemProfilePath == "" {
		return nil
	}
	return p.writeMemProfile()
}

func (p *Profiler) writeMemProfile() error {
	f, err := os.Create(p.config.MemProfilePath)
	if err != nil {
		return fmt.Errorf("failed to create memory profile: %w", err)
	}
	defer f.Close()

	runtime.GC()
	if err := runtimepprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write memory profile: %w", err)
	}
	p.logger.Info().Str("path", p.config.MemProfilePath).Msg("Memory profile saved")
	return nil
}

// Register mounts the pprof and stats handlers on mux
func (p *Profiler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/stats", p.statsHandler)
}

// RuntimeStats is the runtime part of /debug/stats
type RuntimeStats struct {
	Goroutines   int     `json:"goroutines"`
	GOMAXPROCS   int     `json:"gomaxprocs"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	HeapInuseMB  float64 `json:"heap_inuse_mb"`
	SysMB        float64 `json:"sys_mb"`
	HeapObjects  uint64  `json:"heap_objects"`
	NumGC        uint32  `json:"num_gc"`
	PauseTotalMs float64 `json:"gc_pause_total_ms"`
	Uptime       string  `json:"uptime,omitempty"`
}

// ReadRuntimeStats samples the runtime
func (p *Profiler) ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	const mb = 1024 * 1024
	s := RuntimeStats{
		Goroutines:   runtime.NumGoroutine(),
		GOMAXPROCS:   runtime.GOMAXPROCS(0),
		HeapAllocMB:  float64(m.HeapAlloc) / mb,
		HeapInuseMB:  float64(m.HeapInuse) / mb,
		SysMB:        float64(m.Sys) / mb,
		HeapObjects:  m.HeapObjects,
		NumGC:        m.NumGC,
		PauseTotalMs: float64(m.PauseTotalNs) / float64(time.Millisecond),
	}
	if !p.started.IsZero() {
		s.Uptime = time.Since(p.started).Round(time.Second).String()
	}
	return s
}

func (p *Profiler) statsHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"runtime": p.ReadRuntimeStats()}
	if p.Stats != nil {
		for k, v := range p.Stats() {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		p.logger.Debug().Err(err).Msg("Failed to write stats")
	}
}
