package hostprobe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	assert.Greater(t, limits.BandwidthInCapacityBps, 0.0)
	assert.Greater(t, limits.BandwidthOutCapacityBps, 0.0)
	assert.Equal(t, limits.BandwidthInCapacityBps, limits.BandwidthOutCapacityBps)
}

// TestGopsutilProbe_Sample is a smoke test against the real host: it only
// asserts the probe returns plausible percentages, since the underlying
// CPU/memory/network counters are whatever this machine happens to report.
func TestGopsutilProbe_Sample(t *testing.T) {
	probe := NewGopsutilProbe(DefaultLimits())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	usage, err := probe.Sample(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, usage.CPUPercentage, 0.0)
	assert.LessOrEqual(t, usage.CPUPercentage, 100.0)
	assert.GreaterOrEqual(t, usage.MemoryPercentage, 0.0)
	assert.LessOrEqual(t, usage.MemoryPercentage, 100.0)
	assert.Equal(t, usage.MemoryPercentage, usage.DirectMemoryPercentage)
}

// TestGopsutilProbe_NetworkRateRequiresTwoSamples asserts the first sample
// never reports a network rate, since there is no prior counter to diff
// against yet (see networkPercentages).
func TestGopsutilProbe_NetworkRateRequiresTwoSamples(t *testing.T) {
	probe := NewGopsutilProbe(DefaultLimits())
	in, out := probe.networkPercentages(context.Background())
	assert.Zero(t, in)
	assert.Zero(t, out)

	assert.False(t, probe.lastAt.IsZero())
}
