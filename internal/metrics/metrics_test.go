package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}

	if c.registry == nil {
		t.Error("registry is nil")
	}

	if c.LinesRead == nil {
		t.Error("LinesRead is nil")
	}

	if c.OutputCommits == nil {
		t.Error("OutputCommits is nil")
	}

	if c.NotificationsSent == nil {
		t.Error("NotificationsSent is nil")
	}
}

func TestTailerMetrics(t *testing.T) {
	c := NewCollector()

	c.LineRead("auth_ssh", 10)
	c.LineRead("auth_ssh", 5)
	c.Rotation("auth_ssh", "rotated")

	metric := &dto.Metric{}
	if err := c.BytesRead.WithLabelValues("auth_ssh").(prometheus.Counter).Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 15 {
		t.Errorf("Expected 15, got %f", metric.Counter.GetValue())
	}

	if got := testutil.ToFloat64(c.LinesRead.WithLabelValues("auth_ssh")); got != 2 {
		t.Errorf("Expected 2 lines, got %f", got)
	}
	if got := testutil.ToFloat64(c.FileRotations.WithLabelValues("auth_ssh", "rotated")); got != 1 {
		t.Errorf("Expected 1 rotation, got %f", got)
	}
}

func TestOutputMetrics(t *testing.T) {
	c := NewCollector()

	c.Commit("events", 3, 50*time.Millisecond, nil)
	c.Commit("events", 3, 10*time.Millisecond, errors.New("down"))
	c.Pending("events", 3)

	if got := testutil.ToFloat64(c.OutputRecords.WithLabelValues("events")); got != 3 {
		t.Errorf("Expected 3 committed records, got %f", got)
	}
	if got := testutil.ToFloat64(c.OutputCommits.WithLabelValues("events", "failed")); got != 1 {
		t.Errorf("Expected 1 failed commit, got %f", got)
	}
	if got := testutil.ToFloat64(c.OutputPending.WithLabelValues("events")); got != 3 {
		t.Errorf("Expected 3 pending, got %f", got)
	}
}

func TestNotifyMetrics(t *testing.T) {
	c := NewCollector()

	c.Notification("ops", "sent", time.Millisecond)
	c.Notification("ops", "suppressed", 0)
	c.Notification("ops", "suppressed", 0)
	c.Notification("ops", "failed", time.Millisecond)

	if got := testutil.ToFloat64(c.NotificationsSuppressed.WithLabelValues("ops")); got != 2 {
		t.Errorf("Expected 2 suppressed, got %f", got)
	}
	if got := testutil.ToFloat64(c.NotificationsFailed.WithLabelValues("ops")); got != 1 {
		t.Errorf("Expected 1 failed, got %f", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector

	// none of these may panic
	c.LineRead("x", 1)
	c.Commit("x", 1, 0, nil)
	c.Notification("x", "sent", 0)
	c.StateDump(nil, 1)
	c.SetHealth("x", true)
}

func TestSystemMetrics(t *testing.T) {
	c := NewCollector()

	c.collectSystemMetrics()

	metric := &dto.Metric{}
	if err := c.SystemGoroutines.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Gauge.GetValue() <= 0 {
		t.Errorf("Expected positive goroutine count, got %f", metric.Gauge.GetValue())
	}

	if err := c.SystemMemAlloc.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Gauge.GetValue() <= 0 {
		t.Errorf("Expected positive memory allocation, got %f", metric.Gauge.GetValue())
	}
}

func TestStartStop(t *testing.T) {
	c := NewCollector()

	if c.started {
		t.Error("Collector should not be started initially")
	}

	c.Start()

	if !c.started {
		t.Error("Collector should be started after Start()")
	}

	c.Stop()

	if c.started {
		t.Error("Collector should not be started after Stop()")
	}

	// second stop is a no-op
	c.Stop()
}

func TestStateAndHealthMetrics(t *testing.T) {
	c := NewCollector()

	c.StateDump(nil, 4)
	c.StateDump(errors.New("disk full"), 0)
	c.SetHealth("sink:events", true)

	if got := testutil.ToFloat64(c.TrackedFiles); got != 4 {
		t.Errorf("Expected 4 tracked files, got %f", got)
	}
	if got := testutil.ToFloat64(c.StateDumps.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed dump, got %f", got)
	}
	if got := testutil.ToFloat64(c.HealthStatus.WithLabelValues("sink:events")); got != 1 {
		t.Errorf("Expected healthy, got %f", got)
	}
}

func TestRecordMetrics(t *testing.T) {
	c := NewCollector()

	rm, err := c.NewRecordMetrics([]RecordRule{
		{Name: "requests", Type: MetricTypeCounter, Help: "requests", Source: "apache_access", LabelFields: map[string]string{"code": "code"}},
		{Name: "bytes", Type: MetricTypeHistogram, Help: "size", Field: "size", Buckets: []float64{100, 1000}},
	})
	if err != nil {
		t.Fatalf("Failed to create record metrics: %v", err)
	}

	rm.Observe("apache_access", map[string]any{"code": "200", "size": int64(892)})
	rm.Observe("apache_access", map[string]any{"code": "200", "size": "12"})
	rm.Observe("auth_ssh", map[string]any{"code": "200"})

	counter := rm.metrics[0].vec.(*prometheus.CounterVec)
	if got := testutil.ToFloat64(counter.WithLabelValues("200")); got != 2 {
		t.Errorf("Expected 2 requests, got %f", got)
	}

	if n := testutil.CollectAndCount(rm.metrics[1].vec); n != 1 {
		t.Errorf("Expected 1 histogram series, got %d", n)
	}

	if _, err := c.NewRecordMetrics([]RecordRule{{Name: "g", Type: MetricTypeGauge}}); err == nil {
		t.Error("Expected gauge without field to fail")
	}
	if _, err := c.NewRecordMetrics([]RecordRule{{Name: "requests", Type: MetricTypeCounter, Help: "dup"}}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}
