package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the substrate's counters and gauges to Prometheus on
// scrape. Metric families are built from the snapshot each cycle, so the
// collector must be registered as unchecked (Describe sends nothing).
type Collector struct {
	substrate *Substrate
}

// NewCollector creates a prometheus.Collector over the substrate.
func NewCollector(s *Substrate) *Collector {
	return &Collector{substrate: s}
}

// Describe implements prometheus.Collector. It intentionally sends no
// descriptors: metric names are dynamic, so this is an unchecked collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.substrate.Snapshot()

	for name, v := range snap.Counters {
		m, err := prometheus.NewConstMetric(
			prometheus.NewDesc(sanitizeName(name), "rulebank substrate counter", nil, nil),
			prometheus.CounterValue,
			float64(v),
		)
		if err == nil {
			ch <- m
		}
	}

	for name, v := range snap.Gauges {
		m, err := prometheus.NewConstMetric(
			prometheus.NewDesc(sanitizeName(name), "rulebank substrate gauge", nil, nil),
			prometheus.GaugeValue,
			v,
		)
		if err == nil {
			ch <- m
		}
	}

	for name, summary := range snap.Timings {
		base := sanitizeName(name)
		for suffix, v := range map[string]float64{
			"_avg": summary.AvgMS,
			"_p95": summary.P95MS,
			"_max": summary.MaxMS,
		} {
			m, err := prometheus.NewConstMetric(
				prometheus.NewDesc(base+suffix, "rulebank substrate timing summary (ms)", nil, nil),
				prometheus.GaugeValue,
				v,
			)
			if err == nil {
				ch <- m
			}
		}
	}
}

// sanitizeName maps a substrate metric name onto the Prometheus name
// alphabet [a-zA-Z0-9_:].
func sanitizeName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == ':':
		case c >= '0' && c <= '9' && i > 0:
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
