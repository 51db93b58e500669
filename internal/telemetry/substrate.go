package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// noCtx is used for mirror writes; substrate calls carry no context by design.
var noCtx = context.Background()

// Substrate combines the metric mappings and the log ring behind one
// write-only surface. It is the concrete implementation of the observability
// port that business code depends on: every method is side-effect only and
// never returns an error.
type Substrate struct {
	metrics *Metrics
	logs    *LogRing
	mirror  *otelMirror
}

// Option configures a Substrate.
type Option func(*Substrate)

// WithTimingWindow sets the per-window latency sample cap.
func WithTimingWindow(n int) Option {
	return func(s *Substrate) { s.metrics = NewMetrics(n) }
}

// WithLogCapacity sets the log ring capacity.
func WithLogCapacity(n int) Option {
	return func(s *Substrate) { s.logs = NewLogRing(n) }
}

// WithMeter mirrors counter, gauge, and timing writes into OTel instruments
// on the given meter. Instrument creation failures are swallowed; mirroring
// is best-effort and never affects the substrate itself.
func WithMeter(meter metric.Meter) Option {
	return func(s *Substrate) { s.mirror = newOtelMirror(meter) }
}

// NewSubstrate creates a substrate with default capacities.
func NewSubstrate(opts ...Option) *Substrate {
	s := &Substrate{
		metrics: NewMetrics(DefaultTimingWindow),
		logs:    NewLogRing(DefaultLogCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inc adds n to the named counter.
func (s *Substrate) Inc(name string, n int64) {
	s.metrics.Inc(name, n)
	s.mirror.inc(name, n)
}

// SetGauge sets the named gauge.
func (s *Substrate) SetGauge(name string, value float64) {
	s.metrics.SetGauge(name, value)
	s.mirror.gauge(name, value)
}

// SetLabel sets the named label.
func (s *Substrate) SetLabel(name, value string) {
	s.metrics.SetLabel(name, value)
}

// Observe appends a latency observation in milliseconds.
func (s *Substrate) Observe(name string, ms float64) {
	s.metrics.Observe(name, ms)
	s.mirror.observe(name, ms)
}

// Log appends a structured event to the ring.
func (s *Substrate) Log(level, message, module string, tags []string, extra map[string]any) {
	s.logs.Append(level, message, module, tags, extra)
}

// SearchLogs returns buffered events newest first; see LogRing.Search.
func (s *Substrate) SearchLogs(q, level string, sinceSeconds, limit int) []Event {
	return s.logs.Search(q, level, sinceSeconds, limit)
}

// RecentLogs returns up to max unfiltered events within the last
// sinceSeconds, newest first; see LogRing.Recent.
func (s *Substrate) RecentLogs(sinceSeconds, max int) []Event {
	return s.logs.Recent(sinceSeconds, max)
}

// LogCount returns the number of buffered events.
func (s *Substrate) LogCount() int {
	return s.logs.Len()
}

// Snapshot returns a point-in-time copy of all metric mappings.
func (s *Substrate) Snapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// otelMirror lazily creates one OTel instrument per substrate metric name.
// A nil mirror is valid and does nothing.
type otelMirror struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

func newOtelMirror(meter metric.Meter) *otelMirror {
	return &otelMirror{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *otelMirror) inc(name string, n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Int64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(noCtx, n)
}

func (m *otelMirror) gauge(name string, v float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Record(noCtx, v)
}

func (m *otelMirror) observe(name string, ms float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.Record(noCtx, ms)
}
