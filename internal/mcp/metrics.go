package mcp

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// histogramBuckets are the fixed bucket upper edges from spec.md §3, in
// seconds. The last bucket is +Inf.
var histogramBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Counter is a monotonically increasing named, labeled counter.
type Counter struct {
	mu     sync.Mutex
	values map[string]float64
	vec    *prometheus.CounterVec
}

// NewCounter creates a Counter mirrored into a Prometheus CounterVec so the
// value is also reachable via /metrics.
func NewCounter(name, help string, labelNames ...string) *Counter {
	return &Counter{
		values: make(map[string]float64),
		vec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name, Help: help,
		}, labelNames),
	}
}

// Inc increments the counter for a given label value combination by 1.
func (c *Counter) Inc(labelValues ...string) {
	c.Add(1, labelValues...)
}

// Add increments the counter for a given label value combination by delta.
func (c *Counter) Add(delta float64, labelValues ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := labelKey(labelValues)
	c.values[key] += delta
	c.vec.WithLabelValues(labelValues...).Add(delta)
}

// Value returns the current value for a label combination.
func (c *Counter) Value(labelValues ...string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[labelKey(labelValues)]
}

// Collector exposes the underlying Prometheus collector for registration.
func (c *Counter) Collector() prometheus.Collector { return c.vec }

// Gauge is a named, labeled value that can go up or down.
type Gauge struct {
	mu     sync.Mutex
	values map[string]float64
	vec    *prometheus.GaugeVec
}

// NewGauge creates a Gauge mirrored into a Prometheus GaugeVec.
func NewGauge(name, help string, labelNames ...string) *Gauge {
	return &Gauge{
		values: make(map[string]float64),
		vec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name, Help: help,
		}, labelNames),
	}
}

// Set sets the gauge value for a label combination.
func (g *Gauge) Set(value float64, labelValues ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[labelKey(labelValues)] = value
	g.vec.WithLabelValues(labelValues...).Set(value)
}

// Value returns the current gauge value for a label combination.
func (g *Gauge) Value(labelValues ...string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values[labelKey(labelValues)]
}

// Collector exposes the underlying Prometheus collector for registration.
func (g *Gauge) Collector() prometheus.Collector { return g.vec }

// histogramData holds per-label-combination bucket counts, sum, and count.
type histogramData struct {
	bucketCounts []uint64 // parallel to histogramBuckets, plus one +Inf bucket
	sum          float64
	count        uint64
}

// Histogram tracks observations into the fixed buckets from spec.md §3.
type Histogram struct {
	mu   sync.Mutex
	data map[string]*histogramData
	vec  *prometheus.HistogramVec
}

// NewHistogram creates a Histogram mirrored into a Prometheus HistogramVec
// using the same fixed bucket boundaries.
func NewHistogram(name, help string, labelNames ...string) *Histogram {
	return &Histogram{
		data: make(map[string]*histogramData),
		vec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: name, Help: help, Buckets: histogramBuckets,
		}, labelNames),
	}
}

// Observe records a single observation (a duration in seconds, typically).
func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := labelKey(labelValues)
	d, ok := h.data[key]
	if !ok {
		d = &histogramData{bucketCounts: make([]uint64, len(histogramBuckets)+1)}
		h.data[key] = d
	}
	for i, edge := range histogramBuckets {
		if value <= edge {
			d.bucketCounts[i]++
		}
	}
	d.bucketCounts[len(histogramBuckets)]++ // +Inf bucket always incremented
	d.sum += value
	d.count++

	h.vec.WithLabelValues(labelValues...).Observe(value)
}

// Percentile walks the cumulative bucket counts to the first bucket whose
// cumulative count is >= p/100 * total, and returns its upper edge. p is in
// [0, 100]. Returns 0 if there are no observations.
func (h *Histogram) Percentile(p float64, labelValues ...string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.data[labelKey(labelValues)]
	if !ok || d.count == 0 {
		return 0
	}
	target := (p / 100.0) * float64(d.count)
	var cumulative uint64
	for i, c := range d.bucketCounts {
		cumulative += c
		if float64(cumulative) >= target {
			if i == len(histogramBuckets) {
				return histogramBuckets[len(histogramBuckets)-1]
			}
			return histogramBuckets[i]
		}
	}
	return histogramBuckets[len(histogramBuckets)-1]
}

// Mean returns sum/count for a label combination.
func (h *Histogram) Mean(labelValues ...string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.data[labelKey(labelValues)]
	if !ok || d.count == 0 {
		return 0
	}
	return d.sum / float64(d.count)
}

// Count returns the number of observations for a label combination.
func (h *Histogram) Count(labelValues ...string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.data[labelKey(labelValues)]
	if !ok {
		return 0
	}
	return d.count
}

// Collector exposes the underlying Prometheus collector for registration.
func (h *Histogram) Collector() prometheus.Collector { return h.vec }

// labelKey joins positional label values into a stable map key. Order is
// significant and preserved (label values are positional, not a set).
func labelKey(values []string) string {
	key := ""
	for i, v := range values {
		if i > 0 {
			key += "\x1f"
		}
		key += v
	}
	return key
}

// Metrics is the complete set of named metrics the MCP runtime produces,
// mirroring internal/observability/metrics.go's promauto-registration
// idiom but built on the custom Counter/Gauge/Histogram primitives above so
// spec's getPercentile semantics are available without reaching into
// Prometheus internals.
type Metrics struct {
	RequestsTotal     *Counter
	RequestDuration   *Histogram
	RequestErrors     *Counter
	ToolCallsTotal    *Counter
	ToolCallDuration  *Histogram
	ToolCallErrors    *Counter
	RateLimitRejected *Counter
	ActiveConnections *Gauge
}

// NewMetrics constructs a Metrics set and registers every underlying
// Prometheus collector into reg. Pass prometheus.NewRegistry() for an
// isolated registry (tests) or prometheus.DefaultRegisterer for the
// process-wide one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal:     NewCounter("mcp_requests_total", "Total JSON-RPC requests handled", "method"),
		RequestDuration:   NewHistogram("mcp_request_duration_seconds", "Request dispatch duration", "method"),
		RequestErrors:     NewCounter("mcp_request_errors_total", "Total requests that ended in an error response", "method", "code"),
		ToolCallsTotal:    NewCounter("mcp_tool_calls_total", "Total tool invocations", "tool"),
		ToolCallDuration:  NewHistogram("mcp_tool_call_duration_seconds", "Tool handler duration", "tool"),
		ToolCallErrors:    NewCounter("mcp_tool_call_errors_total", "Total tool invocations that returned isError", "tool"),
		RateLimitRejected: NewCounter("mcp_rate_limit_rejected_total", "Total requests rejected by the rate limiter", "client"),
		ActiveConnections: NewGauge("mcp_active_connections", "Currently connected peers"),
	}
	if reg != nil {
		collectors := []prometheus.Collector{
			m.RequestsTotal.Collector(), m.RequestDuration.Collector(), m.RequestErrors.Collector(),
			m.ToolCallsTotal.Collector(), m.ToolCallDuration.Collector(), m.ToolCallErrors.Collector(),
			m.RateLimitRejected.Collector(), m.ActiveConnections.Collector(),
		}
		for _, c := range collectors {
			_ = reg.Register(c)
		}
	}
	return m
}
