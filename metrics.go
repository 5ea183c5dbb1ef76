package mqttsession

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is a factory for named metrics.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// Metric names recorded by a session.
const (
	MetricConnects         = "mqtt_client_connects_total"
	MetricConnectFailures  = "mqtt_client_connect_failures_total"
	MetricPublishes        = "mqtt_client_publishes_total"
	MetricPublishAcked     = "mqtt_client_publish_acked_total"
	MetricPublishFailed    = "mqtt_client_publish_failed_total"
	MetricPublishInflight  = "mqtt_client_publish_inflight"
	MetricPublishLatency   = "mqtt_client_publish_ack_seconds"
	MetricSubscribes       = "mqtt_client_subscribe_requests_total"
	MetricUnsubscribes     = "mqtt_client_unsubscribe_requests_total"
	MetricMessagesReceived = "mqtt_client_messages_received_total"
	MetricReconnects       = "mqtt_client_reconnects_total"
)

// Metric label names.
const (
	LabelQoS        = "qos"
	LabelReasonCode = "reason_code"
)

func qosLabels(qos byte) MetricLabels {
	return MetricLabels{LabelQoS: strconv.Itoa(int(qos))}
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpMetric{} }
func (NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpMetric{} }
func (NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpMetric{} }

type noOpMetric struct{}

func (noOpMetric) Inc()                          {}
func (noOpMetric) Dec()                          {}
func (noOpMetric) Add(float64)                   {}
func (noOpMetric) Set(float64)                   {}
func (noOpMetric) Value() float64                { return 0 }
func (noOpMetric) Observe(float64)               {}
func (noOpMetric) ObserveDuration(time.Duration) {}
func (noOpMetric) Count() uint64                 { return 0 }
func (noOpMetric) Sum() float64                  { return 0 }

// MemoryMetrics keeps metrics in memory. Handy in tests and for the
// end-of-run summary printed by the example binaries.
type MemoryMetrics struct {
	mu         sync.RWMutex
	values     map[string]*atomicFloat
	histograms map[string]*memoryHistogram
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		values:     make(map[string]*atomicFloat),
		histograms: make(map[string]*memoryHistogram),
	}
}

func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + labels[k])
	}
	return b.String()
}

func (m *MemoryMetrics) value(name string, labels MetricLabels) *atomicFloat {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		v = &atomicFloat{}
		m.values[key] = v
	}
	return v
}

// Counter returns a counter metric.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return m.value(name, labels)
}

// Gauge returns a gauge metric.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return m.value(name, labels)
}

// Histogram returns a histogram metric.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histograms[key]
	if !ok {
		h = &memoryHistogram{}
		m.histograms[key] = h
	}
	return h
}

// Value returns the current value of a counter or gauge, 0 if never touched.
func (m *MemoryMetrics) Value(name string, labels MetricLabels) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.values[labelsKey(name, labels)]; ok {
		return v.Value()
	}
	return 0
}

type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

func (f *atomicFloat) Inc()              { f.Add(1) }
func (f *atomicFloat) Dec()              { f.Add(-1) }
func (f *atomicFloat) Set(value float64) { f.bits.Store(math.Float64bits(value)) }
func (f *atomicFloat) Value() float64    { return math.Float64frombits(f.bits.Load()) }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.Add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }
func (h *memoryHistogram) Count() uint64                   { return h.count.Load() }
func (h *memoryHistogram) Sum() float64                    { return h.sum.Value() }
