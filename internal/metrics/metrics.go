package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "logsentry"

// Collector provides a central place for all application metrics. All
// recording helpers are safe to call on a nil collector.
type Collector struct {
	// Tailer metrics
	LinesRead      *prometheus.CounterVec
	BytesRead      *prometheus.CounterVec
	FileRotations  *prometheus.CounterVec
	FileOpenErrors *prometheus.CounterVec
	FilesOpen      prometheus.Gauge

	// Extractor metrics
	RecordsExtracted *prometheus.CounterVec
	FieldErrors      *prometheus.CounterVec

	// Output metrics
	OutputCommits        *prometheus.CounterVec
	OutputRecords        *prometheus.CounterVec
	OutputPending        *prometheus.GaugeVec
	OutputCommitDuration *prometheus.HistogramVec
	OutputCleanupDeleted *prometheus.CounterVec

	// Notification metrics
	NotificationsSent       *prometheus.CounterVec
	NotificationsSuppressed *prometheus.CounterVec
	NotificationsFailed     *prometheus.CounterVec
	NotifyDuration          *prometheus.HistogramVec

	// Collector metrics
	StateDumps   *prometheus.CounterVec
	TrackedFiles prometheus.Gauge

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.Mutex
	started  bool
	stop     chan struct{}
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initTailerMetrics()
	c.initExtractorMetrics()
	c.initOutputMetrics()
	c.initNotifyMetrics()
	c.initCollectorMetrics()
	c.initSystemMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initTailerMetrics() {
	c.LinesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "lines_read_total",
			Help:      "Total number of complete lines read per source",
		},
		[]string{"source"},
	)

	c.BytesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "bytes_read_total",
			Help:      "Total bytes consumed per source",
		},
		[]string{"source"},
	)

	c.FileRotations = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "rotations_total",
			Help:      "Number of detected rotations and truncations",
		},
		[]string{"source", "kind"},
	)

	c.FileOpenErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "open_errors_total",
			Help:      "Number of failed attempts to open a watched file",
		},
		[]string{"source"},
	)

	c.FilesOpen = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "files_open",
			Help:      "Number of watched files currently open",
		},
	)
}

func (c *Collector) initExtractorMetrics() {
	c.RecordsExtracted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "records_total",
			Help:      "Total number of records extracted per source",
		},
		[]string{"source"},
	)

	c.FieldErrors = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extractor",
			Name:      "field_errors_total",
			Help:      "Number of fields dropped because conversion failed",
		},
		[]string{"source", "field"},
	)
}

func (c *Collector) initOutputMetrics() {
	c.OutputCommits = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "commits_total",
			Help:      "Number of commit attempts by result",
		},
		[]string{"output", "result"},
	)

	c.OutputRecords = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_total",
			Help:      "Number of records successfully committed",
		},
		[]string{"output"},
	)

	c.OutputPending = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "pending_records",
			Help:      "Number of records buffered and not yet committed",
		},
		[]string{"output"},
	)

	c.OutputCommitDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "commit_duration_seconds",
			Help:      "Time spent committing a batch",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"output"},
	)

	c.OutputCleanupDeleted = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "cleanup_deleted_total",
			Help:      "Number of documents removed by retention cleanup",
		},
		[]string{"output", "source"},
	)
}

func (c *Collector) initNotifyMetrics() {
	c.NotificationsSent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Number of delivered notifications",
		},
		[]string{"notifier"},
	)

	c.NotificationsSuppressed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "suppressed_total",
			Help:      "Number of notifications suppressed by rate limiting",
		},
		[]string{"notifier"},
	)

	c.NotificationsFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failed_total",
			Help:      "Number of notifications that could not be delivered",
		},
		[]string{"notifier"},
	)

	c.NotifyDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "send_duration_seconds",
			Help:      "Time spent delivering a notification",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"notifier"},
	)
}

func (c *Collector) initCollectorMetrics() {
	c.StateDumps = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "state_dumps_total",
			Help:      "Number of state snapshot writes by result",
		},
		[]string{"result"},
	)

	c.TrackedFiles = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "tracked_files",
			Help:      "Number of files tracked by the collector",
		},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_alloc_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)

	c.SystemMemSys = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_system_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// LineRead records one complete line of n bytes
func (c *Collector) LineRead(source string, n int) {
	if c == nil {
		return
	}
	c.LinesRead.WithLabelValues(source).Inc()
	c.BytesRead.WithLabelValues(source).Add(float64(n))
}

// Rotation records a rotation ("rotated") or truncation ("truncated")
func (c *Collector) Rotation(source, kind string) {
	if c == nil {
		return
	}
	c.FileRotations.WithLabelValues(source, kind).Inc()
}

// OpenError records a failed open
func (c *Collector) OpenError(source string) {
	if c == nil {
		return
	}
	c.FileOpenErrors.WithLabelValues(source).Inc()
}

// FileOpened adjusts the open file gauge by delta
func (c *Collector) FileOpened(delta int) {
	if c == nil {
		return
	}
	c.FilesOpen.Add(float64(delta))
}

// Extracted records a matched line
func (c *Collector) Extracted(source string) {
	if c == nil {
		return
	}
	c.RecordsExtracted.WithLabelValues(source).Inc()
}

// FieldError records a dropped field
func (c *Collector) FieldError(source, field string) {
	if c == nil {
		return
	}
	c.FieldErrors.WithLabelValues(source, field).Inc()
}

// Commit records a commit attempt
func (c *Collector) Commit(output string, records int, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	} else {
		c.OutputRecords.WithLabelValues(output).Add(float64(records))
	}
	c.OutputCommits.WithLabelValues(output, result).Inc()
	c.OutputCommitDuration.WithLabelValues(output).Observe(d.Seconds())
}

// Pending sets the number of buffered records of an output
func (c *Collector) Pending(output string, n int) {
	if c == nil {
		return
	}
	c.OutputPending.WithLabelValues(output).Set(float64(n))
}

// CleanupDeleted records documents removed by retention
func (c *Collector) CleanupDeleted(output, source string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.OutputCleanupDeleted.WithLabelValues(output, source).Add(float64(n))
}

// Notification records the outcome of one notification: "sent",
// "suppressed" or "failed"
func (c *Collector) Notification(notifier, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	switch outcome {
	case "sent":
		c.NotificationsSent.WithLabelValues(notifier).Inc()
		c.NotifyDuration.WithLabelValues(notifier).Observe(d.Seconds())
	case "suppressed":
		c.NotificationsSuppressed.WithLabelValues(notifier).Inc()
	default:
		c.NotificationsFailed.WithLabelValues(notifier).Inc()
		c.NotifyDuration.WithLabelValues(notifier).Observe(d.Seconds())
	}
}

// StateDump records a snapshot write
func (c *Collector) StateDump(err error, files int) {
	if c == nil {
		return
	}
	if err != nil {
		c.StateDumps.WithLabelValues("failed").Inc()
		return
	}
	c.StateDumps.WithLabelValues("ok").Inc()
	c.TrackedFiles.Set(float64(files))
}

// SetHealth records a component's health
func (c *Collector) SetHealth(component string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	c.HealthStatus.WithLabelValues(component).Set(v)
}

// Start begins collecting system metrics periodically
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}

	c.started = true
	c.stop = make(chan struct{})
	c.collectSystemMetrics()

	go func(stop chan struct{}) {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stop:
				return
			}
		}
	}(c.stop)
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	close(c.stop)
	c.started = false
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
