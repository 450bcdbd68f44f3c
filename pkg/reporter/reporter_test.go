package reporter

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetlb/pkg/coordstore"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	usage types.SystemResourceUsage
}

func (f *fakeProbe) Sample(context.Context) (types.SystemResourceUsage, error) {
	return f.usage, nil
}

type fakeServing struct {
	stats map[string]types.NamespaceBundleStats
}

func (f *fakeServing) BundleStats(context.Context) map[string]types.NamespaceBundleStats {
	return f.stats
}

func newTestReporter(t *testing.T, probe *fakeProbe, serving *fakeServing) (*Reporter, *coordstore.Adapter) {
	t.Helper()
	adapter := coordstore.NewAdapter(coordstore.NewMemClient())
	r := New(Config{
		Advertised: "broker-1:6650",
		MaxInterval: time.Hour,
		ThresholdPercentage: 10,
	}, probe, serving, adapter)
	return r, adapter
}

func TestWriteBrokerDataIfNeeded_PublishesOnFirstCall(t *testing.T) {
	probe := &fakeProbe{usage: types.SystemResourceUsage{CPUPercentage: 10}}
	serving := &fakeServing{stats: map[string]types.NamespaceBundleStats{
		"ns1/0x00000000_0x40000000": {MsgRateIn: 10, MsgRateOut: 10},
	}}
	r, store := newTestReporter(t, probe, serving)
	ctx := context.Background()

	err := r.WriteBrokerDataIfNeeded(ctx)
	require.NoError(t, err)

	data, found, err := store.GetLocalBrokerData(ctx, "broker-1:6650")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, data.NumBundles)
	assert.Empty(t, data.LastBundleGains, "gains cleared after publish")
}

func TestWriteBrokerDataIfNeeded_SkipsWhenBelowThreshold(t *testing.T) {
	probe := &fakeProbe{usage: types.SystemResourceUsage{CPUPercentage: 10}}
	serving := &fakeServing{stats: map[string]types.NamespaceBundleStats{}}
	r, store := newTestReporter(t, probe, serving)
	ctx := context.Background()

	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))
	firstPublish := r.lastPublish

	// Tiny change, well under the 10% threshold and the (effectively
	// infinite) max interval: should not republish.
	probe.usage.CPUPercentage = 10.5
	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))

	assert.Equal(t, firstPublish, r.lastPublish)
	_, _, err := store.GetLocalBrokerData(ctx, "broker-1:6650")
	require.NoError(t, err)
}

func TestWriteBrokerDataIfNeeded_PublishesOnResourceUsageJump(t *testing.T) {
	probe := &fakeProbe{usage: types.SystemResourceUsage{CPUPercentage: 10}}
	serving := &fakeServing{stats: map[string]types.NamespaceBundleStats{}}
	r, store := newTestReporter(t, probe, serving)
	ctx := context.Background()

	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))
	firstPublish := r.lastPublish

	time.Sleep(time.Millisecond)
	probe.usage.CPUPercentage = 50 // 40 percentage point jump, well above 10
	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))

	assert.True(t, r.lastPublish.After(firstPublish))
	data, found, err := store.GetLocalBrokerData(ctx, "broker-1:6650")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 50.0, data.Usage.CPUPercentage)
}

func TestWriteBrokerDataIfNeeded_PublishesOnMaxIntervalElapsed(t *testing.T) {
	probe := &fakeProbe{usage: types.SystemResourceUsage{CPUPercentage: 10}}
	serving := &fakeServing{stats: map[string]types.NamespaceBundleStats{}}
	adapter := coordstore.NewAdapter(coordstore.NewMemClient())
	r := New(Config{
		Advertised: "broker-1:6650",
		MaxInterval: time.Nanosecond,
		ThresholdPercentage: 1000, // unreachable via deltas
	}, probe, serving, adapter)
	ctx := context.Background()

	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))
	firstPublish := r.lastPublish

	time.Sleep(time.Millisecond)
	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))
	assert.True(t, r.lastPublish.After(firstPublish))
}

func TestUpdateLocalBrokerData_DeltasSurviveMultipleUnpublishedTicks(t *testing.T) {
	probe := &fakeProbe{usage: types.SystemResourceUsage{CPUPercentage: 10}}
	serving := &fakeServing{stats: map[string]types.NamespaceBundleStats{
		"ns1/0x00000000_0x40000000": {MsgRateIn: 10},
	}}
	r, store := newTestReporter(t, probe, serving)
	ctx := context.Background()

	require.NoError(t, r.WriteBrokerDataIfNeeded(ctx))
	_, found, err := store.GetLocalBrokerData(ctx, "broker-1:6650")
	require.NoError(t, err)
	require.True(t, found)

	// Two more updates, both below the publish threshold: a bundle is
	// gained then lost between them without ever being published.
	serving.stats = map[string]types.NamespaceBundleStats{
		"ns1/0x00000000_0x40000000": {MsgRateIn: 10},
		"ns1/0x40000000_0x80000000": {MsgRateIn: 1},
	}
	require.NoError(t, r.UpdateLocalBrokerData(ctx))
	assert.ElementsMatch(t, []string{"ns1/0x40000000_0x80000000"}, r.current.LastBundleGains)

	serving.stats = map[string]types.NamespaceBundleStats{
		"ns1/0x00000000_0x40000000": {MsgRateIn: 10},
	}
	require.NoError(t, r.UpdateLocalBrokerData(ctx))

	// Diffed against the last *published* snapshot (one bundle), not the
	// previous update's transient two-bundle snapshot: no spurious loss.
	assert.Empty(t, r.current.LastBundleGains)
	assert.Empty(t, r.current.LastBundleLosses)
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, 0.0, percentChange(0, 0))
	assert.True(t, percentChange(0, 5) > 1e300) // +Inf
	assert.Equal(t, 50.0, percentChange(100, 50))
}

func TestDiffBundleSets(t *testing.T) {
	prev := map[string]struct{}{"a": {}, "b": {}}
	next := map[string]struct{}{"b": {}, "c": {}}
	gains, losses := diffBundleSets(prev, next)
	assert.ElementsMatch(t, []string{"c"}, gains)
	assert.ElementsMatch(t, []string{"a"}, losses)
}
