package rulebank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewHarvestScheduler(t *testing.T) {
	s := NewStore()
	h := NewHarvester(s, staticLogs{}, nil, DefaultHarvestConfig())

	_, err := NewHarvestScheduler(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewHarvestScheduler(h, nil)
	assert.Error(t, err)

	sched, err := NewHarvestScheduler(h, zap.NewNop(), WithHarvestInterval(time.Minute))
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestHarvestSchedulerLifecycle(t *testing.T) {
	s := NewStore()
	h := NewHarvester(s, staticLogs{}, nil, DefaultHarvestConfig())
	sched, err := NewHarvestScheduler(h, zap.NewNop(), WithHarvestInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, sched.Start())
	assert.Error(t, sched.Start(), "double start must fail")

	require.NoError(t, sched.Stop())
	assert.NoError(t, sched.Stop(), "double stop is a no-op")

	// Start works again after a full stop.
	require.NoError(t, sched.Start())
	require.NoError(t, sched.Stop())
}
