package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/extract"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/notify"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/output"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/profiling"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/tracing"
)

// Config represents the main configuration
type Config struct {
	Logging   LoggingConfig     `yaml:"logging"`
	Collector CollectorConfig   `yaml:"collector"`
	Metrics   *MetricsConfig    `yaml:"metrics,omitempty"`
	Health    *HealthConfig     `yaml:"health,omitempty"`
	Tracing   *tracing.Config   `yaml:"tracing,omitempty"`
	Profiling *profiling.Config `yaml:"profiling,omitempty"`
	Files     []FileConfig      `yaml:"files"`
	Outputs   []output.Config   `yaml:"outputs"`
	Notifiers []notify.Config   `yaml:"notifiers,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// CollectorConfig holds the settings of the collector itself
type CollectorConfig struct {
	StateFile       string        `yaml:"state_file"`
	DumpInterval    time.Duration `yaml:"dump_interval,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`

	// LocalRanges are CIDR ranges treated as local besides the private
	// and loopback ones
	LocalRanges     []string `yaml:"local_ranges,omitempty"`
	LocalRangesFile string   `yaml:"local_ranges_file,omitempty"`

	HostnamesFile string `yaml:"hostnames_file,omitempty"`
	CountriesFile string `yaml:"countries_file,omitempty"`
	ReverseDNS    bool   `yaml:"reverse_dns,omitempty"`

	// CommitTimeout and NotifyTimeout apply to outputs and notifiers that
	// set none
	CommitTimeout time.Duration `yaml:"commit_timeout,omitempty"`
	NotifyTimeout time.Duration `yaml:"notify_timeout,omitempty"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// ConnectRetries is the number of extra attempts an output gets to
	// connect at startup
	ConnectRetries int `yaml:"connect_retries,omitempty"`

	// CacheSize bounds the is-new negative cache
	CacheSize int `yaml:"cache_size,omitempty"`
}

// FileConfig describes one watched file
type FileConfig struct {
	Path      string           `yaml:"path"`
	Name      string           `yaml:"name"`
	Output    string           `yaml:"output"`
	Retention int              `yaml:"retention,omitempty"`
	Filters   []extract.Config `yaml:"filters"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Address string               `yaml:"address"`
	Path    string               `yaml:"path,omitempty"`
	Records []metrics.RecordRule `yaml:"records,omitempty"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Address       string        `yaml:"address"`
	LivenessPath  string        `yaml:"liveness_path,omitempty"`
	ReadinessPath string        `yaml:"readiness_path,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
}

// Default values
const (
	DefaultStateFile       = "/var/lib/logsentry/state.json"
	DefaultDumpInterval    = 15 * time.Second
	DefaultCleanupInterval = time.Hour
	DefaultCommitTimeout   = 10 * time.Second
	DefaultNotifyTimeout   = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultConnectRetries  = 3
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	col := &c.Collector
	if col.StateFile == "" {
		col.StateFile = DefaultStateFile
	}
	if col.DumpInterval <= 0 {
		col.DumpInterval = DefaultDumpInterval
	}
	if col.CleanupInterval <= 0 {
		col.CleanupInterval = DefaultCleanupInterval
	}
	if col.CommitTimeout <= 0 {
		col.CommitTimeout = DefaultCommitTimeout
	}
	if col.NotifyTimeout <= 0 {
		col.NotifyTimeout = DefaultNotifyTimeout
	}
	if col.ShutdownTimeout <= 0 {
		col.ShutdownTimeout = DefaultShutdownTimeout
	}
	if col.ConnectRetries == 0 {
		col.ConnectRetries = DefaultConnectRetries
	}

	for i := range c.Outputs {
		o := &c.Outputs[i]
		if o.BufferSize <= 0 {
			o.BufferSize = output.DefaultBufferSize
		}
		if o.CommitTimeout <= 0 {
			o.CommitTimeout = col.CommitTimeout
		}
	}
	for i := range c.Notifiers {
		if c.Notifiers[i].Timeout <= 0 {
			c.Notifiers[i].Timeout = col.NotifyTimeout
		}
	}
	for i := range c.Files {
		if c.Files[i].Name == "" {
			c.Files[i].Name = c.Files[i].Path
		}
	}

	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Health != nil {
		if c.Health.LivenessPath == "" {
			c.Health.LivenessPath = "/health/live"
		}
		if c.Health.ReadinessPath == "" {
			c.Health.ReadinessPath = "/health/ready"
		}
		if c.Health.Timeout <= 0 {
			c.Health.Timeout = 5 * time.Second
		}
	}
}

// Validate validates the configuration. Notifiers that no filter
// references are only checked for a name; see Unreferenced.
func (c *Config) Validate() error {
	if len(c.Files) == 0 {
		return fmt.Errorf("at least one file must be configured")
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("at least one output must be configured")
	}

	outputs := make(map[string]bool, len(c.Outputs))
	for i, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("output %d has no name configured", i)
		}
		if outputs[o.Name] {
			return fmt.Errorf("duplicate output name %q", o.Name)
		}
		if !output.Known(o.Type) {
			return fmt.Errorf("output %s: %w: %q", o.Name, output.ErrUnknownType, o.Type)
		}
		outputs[o.Name] = true
	}

	notifiers := make(map[string]notify.Config, len(c.Notifiers))
	for i, n := range c.Notifiers {
		if n.Name == "" {
			return fmt.Errorf("notifier %d has no name configured", i)
		}
		if _, dup := notifiers[n.Name]; dup {
			return fmt.Errorf("duplicate notifier name %q", n.Name)
		}
		if n.Limit < 0 {
			return fmt.Errorf("notifier %s has a negative limit", n.Name)
		}
		notifiers[n.Name] = n
	}

	paths := make(map[string]bool, len(c.Files))
	for i, f := range c.Files {
		if f.Path == "" {
			return fmt.Errorf("file %d has no path configured", i)
		}
		if paths[f.Path] {
			return fmt.Errorf("file %s is configured twice", f.Path)
		}
		paths[f.Path] = true
		if f.Retention < 0 {
			return fmt.Errorf("file %s has a negative retention", f.Path)
		}
		if !outputs[f.Output] {
			return fmt.Errorf("file %s references unknown output %q", f.Path, f.Output)
		}
		for j, filter := range f.Filters {
			if filter.Regex == "" {
				return fmt.Errorf("file %s filter %d has no regex", f.Path, j)
			}
			for _, ref := range filter.Notify {
				n, ok := notifiers[ref.Name]
				if !ok {
					return fmt.Errorf("file %s filter %d references unknown notifier %q", f.Path, j, ref.Name)
				}
				if !notify.Known(n.Type) {
					return fmt.Errorf("notifier %s: %w: %q", n.Name, notify.ErrUnknownType, n.Type)
				}
			}
		}
	}

	if c.Metrics != nil && c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics enabled without an address")
	}
	if c.Health != nil && c.Health.Enabled && c.Health.Address == "" {
		return fmt.Errorf("health enabled without an address")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Referenced returns the names of notifiers used by at least one filter
func (c *Config) Referenced() map[string]bool {
	out := make(map[string]bool)
	for _, f := range c.Files {
		for _, filter := range f.Filters {
			for _, ref := range filter.Notify {
				out[ref.Name] = true
			}
		}
	}
	return out
}

// Unreferenced returns the names of notifiers no filter uses, sorted
func (c *Config) Unreferenced() []string {
	used := c.Referenced()
	var out []string
	for _, n := range c.Notifiers {
		if !used[n.Name] {
			out = append(out, n.Name)
		}
	}
	sort.Strings(out)
	return out
}
