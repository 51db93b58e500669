package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(0)
	m.Inc("requests", 1)
	m.Inc("requests", 4)
	m.Inc("errors", 1)

	snap := m.Snapshot()
	assert.Equal(t, int64(5), snap.Counters["requests"])
	assert.Equal(t, int64(1), snap.Counters["errors"])
}

func TestMetricsGaugesLastWriteWins(t *testing.T) {
	m := NewMetrics(0)
	m.SetGauge("rules", 3)
	m.SetGauge("rules", 7)

	snap := m.Snapshot()
	assert.Equal(t, 7.0, snap.Gauges["rules"])
}

func TestMetricsLabels(t *testing.T) {
	m := NewMetrics(0)
	m.SetLabel("state", "awake")
	m.SetLabel("state", "sleeping")

	snap := m.Snapshot()
	assert.Equal(t, "sleeping", snap.Labels["state"])
}

func TestMetricsTimingWindow(t *testing.T) {
	t.Run("summarizes observations", func(t *testing.T) {
		m := NewMetrics(10)
		for _, ms := range []float64{10, 20, 30, 40} {
			m.Observe("op_ms", ms)
		}

		snap := m.Snapshot()
		s, ok := snap.Timings["op_ms"]
		require.True(t, ok)
		assert.Equal(t, 4.0, s.Count)
		assert.Equal(t, 25.0, s.AvgMS)
		assert.Equal(t, 10.0, s.MinMS)
		assert.Equal(t, 40.0, s.MaxMS)
		assert.Equal(t, 40.0, s.P95MS)
	})

	t.Run("evicts oldest beyond the cap", func(t *testing.T) {
		m := NewMetrics(3)
		for _, ms := range []float64{100, 1, 2, 3} {
			m.Observe("op_ms", ms)
		}

		s := m.Snapshot().Timings["op_ms"]
		assert.Equal(t, 3.0, s.Count)
		assert.Equal(t, 3.0, s.MaxMS, "the 100ms sample must be gone")
	})

	t.Run("single observation", func(t *testing.T) {
		m := NewMetrics(0)
		m.Observe("op_ms", 12)

		s := m.Snapshot().Timings["op_ms"]
		assert.Equal(t, 1.0, s.Count)
		assert.Equal(t, 12.0, s.AvgMS)
		assert.Equal(t, 12.0, s.P95MS)
	})
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics(0)
	m.Inc("c", 1)

	snap := m.Snapshot()
	snap.Counters["c"] = 99
	assert.Equal(t, int64(1), m.Snapshot().Counters["c"])
}

func TestMetricsConcurrentWrites(t *testing.T) {
	m := NewMetrics(50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc("c", 1)
				m.SetGauge("g", float64(j))
				m.Observe("t", float64(j))
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(1000), snap.Counters["c"])
	assert.Equal(t, 50.0, snap.Timings["t"].Count)
}
