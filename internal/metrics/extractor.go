package metrics

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricType represents the type of metric derived from records
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// RecordRule derives a metric from extracted records
type RecordRule struct {
	Name string     `yaml:"name"`
	Type MetricType `yaml:"type"`
	Help string     `yaml:"help"`

	// Source restricts the rule to records of one logical source
	Source string `yaml:"source,omitempty"`

	// Field supplies the observed value. Counters without a field count
	// matching records.
	Field string `yaml:"field,omitempty"`

	// LabelFields maps metric label names to record fields
	LabelFields map[string]string `yaml:"label_fields,omitempty"`
	Buckets     []float64         `yaml:"buckets,omitempty"`
}

type recordMetric struct {
	rule   RecordRule
	labels []string
	vec    prometheus.Collector
}

// RecordMetrics applies record rules
type RecordMetrics struct {
	metrics []recordMetric
}

// NewRecordMetrics registers one metric per rule on the collector's registry
func (c *Collector) NewRecordMetrics(rules []RecordRule) (*RecordMetrics, error) {
	rm := &RecordMetrics{}
	for _, rule := range rules {
		m, err := newRecordMetric(rule)
		if err != nil {
			return nil, err
		}
		if err := c.registry.Register(m.vec); err != nil {
			return nil, fmt.Errorf("failed to register metric %s: %w", rule.Name, err)
		}
		rm.metrics = append(rm.metrics, m)
	}
	return rm, nil
}

func newRecordMetric(rule RecordRule) (recordMetric, error) {
	if rule.Name == "" {
		return recordMetric{}, fmt.Errorf("record metric has no name")
	}

	labels := make([]string, 0, len(rule.LabelFields))
	for name := range rule.LabelFields {
		labels = append(labels, name)
	}
	sort.Strings(labels)

	name := fmt.Sprintf("%s_record_%s", namespace, rule.Name)
	m := recordMetric{rule: rule, labels: labels}

	switch rule.Type {
	case MetricTypeCounter:
		m.vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: rule.Help}, labels)
	case MetricTypeGauge:
		if rule.Field == "" {
			return recordMetric{}, fmt.Errorf("gauge %s needs a field", rule.Name)
		}
		m.vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: rule.Help}, labels)
	case MetricTypeHistogram:
		if rule.Field == "" {
			return recordMetric{}, fmt.Errorf("histogram %s needs a field", rule.Name)
		}
		buckets := rule.Buckets
		if buckets == nil {
			buckets = prometheus.DefBuckets
		}
		m.vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: rule.Help, Buckets: buckets}, labels)
	default:
		return recordMetric{}, fmt.Errorf("unsupported metric type: %s", rule.Type)
	}
	return m, nil
}

// Observe applies every matching rule to a record. Records lacking the
// value field, or holding a non-numeric value, are skipped.
func (rm *RecordMetrics) Observe(source string, fields map[string]any) {
	if rm == nil {
		return
	}
	for _, m := range rm.metrics {
		if m.rule.Source != "" && m.rule.Source != source {
			continue
		}

		value := 1.0
		if m.rule.Field != "" {
			v, ok := numeric(fields[m.rule.Field])
			if !ok {
				continue
			}
			value = v
		}

		labelValues := make([]string, len(m.labels))
		for i, name := range m.labels {
			labelValues[i] = fmt.Sprint(fields[m.rule.LabelFields[name]])
		}

		switch vec := m.vec.(type) {
		case *prometheus.CounterVec:
			if value >= 0 {
				vec.WithLabelValues(labelValues...).Add(value)
			}
		case *prometheus.GaugeVec:
			vec.WithLabelValues(labelValues...).Set(value)
		case *prometheus.HistogramVec:
			vec.WithLabelValues(labelValues...).Observe(value)
		}
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
