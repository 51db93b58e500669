package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), ProviderConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.IsDegraded())

	// Disabled provider still hands out usable no-op instruments.
	tracer := p.Tracer("test")
	assert.NotNil(t, tracer)
	meter := p.Meter("test")
	assert.NotNil(t, meter)

	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.ForceFlush(context.Background()))
}

func TestNewProviderRequiresEndpoint(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Enabled: true})
	assert.Error(t, err)
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost:4317", "localhost:4317"},
		{"http://localhost:4318", "localhost:4318"},
		{"https://collector.example.com:4317", "collector.example.com:4317"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripScheme(tt.in))
	}
}
