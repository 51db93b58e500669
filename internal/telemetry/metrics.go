package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultTimingWindow is the number of recent observations kept per latency
// window. Older observations are evicted first.
const DefaultTimingWindow = 200

// TimingSummary is the on-demand summary of one latency window.
type TimingSummary struct {
	Count float64 `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	P95MS float64 `json:"p95_ms"`
	MinMS float64 `json:"min_ms"`
	MaxMS float64 `json:"max_ms"`
}

// MetricsSnapshot is a point-in-time copy of all metric mappings.
type MetricsSnapshot struct {
	Counters  map[string]int64         `json:"counters"`
	Gauges    map[string]float64       `json:"gauges"`
	Labels    map[string]string        `json:"labels"`
	Timings   map[string]TimingSummary `json:"timings"`
	Window    int                      `json:"window"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Metrics holds three independent mappings: monotonic counters, last-write-wins
// gauges, and capped latency observation windows, plus free-form labels.
//
// Each mapping has its own lock. Counters are monotone and gauges are
// last-write-wins, so interleaving between mappings is harmless.
type Metrics struct {
	cmu      sync.Mutex
	counters map[string]int64

	gmu    sync.Mutex
	gauges map[string]float64

	lmu    sync.Mutex
	labels map[string]string

	tmu        sync.Mutex
	timings    map[string][]float64
	maxTimings int
}

// NewMetrics creates a Metrics with the given per-window sample cap.
// A cap <= 0 falls back to DefaultTimingWindow.
func NewMetrics(maxTimings int) *Metrics {
	if maxTimings <= 0 {
		maxTimings = DefaultTimingWindow
	}
	return &Metrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		labels:     make(map[string]string),
		timings:    make(map[string][]float64),
		maxTimings: maxTimings,
	}
}

// Inc adds n to the named counter.
func (m *Metrics) Inc(name string, n int64) {
	m.cmu.Lock()
	m.counters[name] += n
	m.cmu.Unlock()
}

// SetGauge sets the named gauge; the last write wins.
func (m *Metrics) SetGauge(name string, value float64) {
	m.gmu.Lock()
	m.gauges[name] = value
	m.gmu.Unlock()
}

// SetLabel sets the named label; the last write wins.
func (m *Metrics) SetLabel(name, value string) {
	m.lmu.Lock()
	m.labels[name] = value
	m.lmu.Unlock()
}

// Observe appends a latency observation in milliseconds to the named window,
// evicting the oldest observations beyond the window cap.
func (m *Metrics) Observe(name string, ms float64) {
	m.tmu.Lock()
	arr := append(m.timings[name], ms)
	if len(arr) > m.maxTimings {
		arr = arr[len(arr)-m.maxTimings:]
	}
	m.timings[name] = arr
	m.tmu.Unlock()
}

// Snapshot returns a copy of all mappings with timing windows summarized.
// Empty windows degrade to zero-filled summaries rather than being omitted.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:  make(map[string]int64),
		Gauges:    make(map[string]float64),
		Labels:    make(map[string]string),
		Timings:   make(map[string]TimingSummary),
		Window:    m.maxTimings,
		UpdatedAt: time.Now().UTC(),
	}

	m.cmu.Lock()
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	m.cmu.Unlock()

	m.gmu.Lock()
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	m.gmu.Unlock()

	m.lmu.Lock()
	for k, v := range m.labels {
		snap.Labels[k] = v
	}
	m.lmu.Unlock()

	m.tmu.Lock()
	for k, vals := range m.timings {
		snap.Timings[k] = summarize(vals)
	}
	m.tmu.Unlock()

	return snap
}

func summarize(vals []float64) TimingSummary {
	if len(vals) == 0 {
		return TimingSummary{}
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return TimingSummary{
		Count: float64(len(sorted)),
		AvgMS: sum / float64(len(sorted)),
		P95MS: percentile(sorted, 0.95),
		MinMS: sorted[0],
		MaxMS: sorted[len(sorted)-1],
	}
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := int(math.Round(float64(len(sorted)-1) * p))
	return sorted[k]
}
