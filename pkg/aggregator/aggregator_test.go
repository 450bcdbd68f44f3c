package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a bare in-memory double for Source; tests seed its maps
// directly instead of going through a real coordstore.
type fakeSource struct {
	brokerData map[string]*types.LocalBrokerData
	bundleData map[string]types.BundleData
	quotas map[string]types.ResourceQuota
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		brokerData: make(map[string]*types.LocalBrokerData),
		bundleData: make(map[string]types.BundleData),
		quotas: make(map[string]types.ResourceQuota),
	}
}

func (f *fakeSource) GetLocalBrokerData(_ context.Context, broker string) (*types.LocalBrokerData, bool, error) {
	d, ok := f.brokerData[broker]
	return d, ok, nil
}

func (f *fakeSource) GetBundleData(_ context.Context, bundle string) (types.BundleData, bool, error) {
	d, ok := f.bundleData[bundle]
	return d, ok, nil
}

func (f *fakeSource) GetResourceQuota(_ context.Context, bundle string) (types.ResourceQuota, bool, error) {
	q, ok := f.quotas[bundle]
	return q, ok, nil
}

func TestRunUpdateAll_PopulatesBrokerAndBundleState(t *testing.T) {
	source := newFakeSource()
	source.brokerData["broker-a:8080"] = &types.LocalBrokerData{
		AdvertisedAddress: "broker-a:8080",
		LastStats: map[string]types.NamespaceBundleStats{
			"ns1/0x0_0x40": {MsgRateIn: 10, MsgRateOut: 5},
		},
	}

	view := NewLoadView()
	agg := New(view, source)

	agg.RunUpdateAll(context.Background(), []string{"broker-a:8080"})

	view.Lock()
	defer view.Unlock()
	require.Contains(t, view.Brokers, "broker-a:8080")
	require.Contains(t, view.Bundles, "ns1/0x0_0x40")
	assert.Equal(t, 1, view.Brokers["broker-a:8080"].TimeAverageData.NumBundles)
	assert.Equal(t, 1, view.NamespaceBundleCount("broker-a:8080", "ns1"))
}

func TestRunUpdateAll_ReapsDeadBrokers(t *testing.T) {
	source := newFakeSource()
	view := NewLoadView()
	view.Brokers["broker-gone:8080"] = types.NewBrokerState()
	view.Preallocation["ns1/0x0_0x40"] = "broker-gone:8080"
	view.NamespaceFanout["broker-gone:8080"] = map[string]map[string]struct{}{"ns1": {"0x0_0x40": {}}}

	agg := New(view, source)
	agg.RunUpdateAll(context.Background(), nil)

	view.Lock()
	defer view.Unlock()
	assert.NotContains(t, view.Brokers, "broker-gone:8080")
	assert.NotContains(t, view.Preallocation, "ns1/0x0_0x40")
	assert.NotContains(t, view.NamespaceFanout, "broker-gone:8080")
}

func TestRunUpdateAll_HydratesFromBundleDataThenQuotaThenDefault(t *testing.T) {
	source := newFakeSource()
	source.bundleData["ns1/hydrated"] = types.BundleData{}
	source.quotas["ns1/quota"] = types.ResourceQuota{MsgRateIn: 7, MsgRateOut: 3}
	source.brokerData["broker-a:8080"] = &types.LocalBrokerData{
		LastStats: map[string]types.NamespaceBundleStats{
			"ns1/hydrated": {MsgRateIn: 1},
			"ns1/quota": {MsgRateIn: 1},
			"ns1/neither": {MsgRateIn: 1},
		},
	}

	view := NewLoadView()
	agg := New(view, source)
	agg.RunUpdateAll(context.Background(), []string{"broker-a:8080"})

	view.Lock()
	defer view.Unlock()
	require.Contains(t, view.Bundles, "ns1/hydrated")
	require.Contains(t, view.Bundles, "ns1/quota")
	require.Contains(t, view.Bundles, "ns1/neither")
	// The quota-seeded window started saturated; one more sample shouldn't
	// move its short-term average far from the seed.
	assert.InDelta(t, 7, view.Bundles["ns1/quota"].MsgRateIn.Short.Avg, 1.0)
}

func TestRunUpdateAll_ReconcilesSettledPreallocation(t *testing.T) {
	source := newFakeSource()
	source.brokerData["broker-a:8080"] = &types.LocalBrokerData{
		LastStats: map[string]types.NamespaceBundleStats{
			"ns1/0x0_0x40": {MsgRateIn: 10},
		},
	}

	view := NewLoadView()
	state := types.NewBrokerState()
	state.PreallocatedBundleData["ns1/0x0_0x40"] = types.BundleData{}
	view.Brokers["broker-a:8080"] = state
	view.Preallocation["ns1/0x0_0x40"] = "broker-a:8080"

	agg := New(view, source)
	agg.RunUpdateAll(context.Background(), []string{"broker-a:8080"})

	view.Lock()
	defer view.Unlock()
	assert.NotContains(t, state.PreallocatedBundleData, "ns1/0x0_0x40")
	assert.NotContains(t, view.Preallocation, "ns1/0x0_0x40")
}

func TestOnMembershipChange_RunsAsynchronously(t *testing.T) {
	source := newFakeSource()
	source.brokerData["broker-a:8080"] = &types.LocalBrokerData{
		LastStats: map[string]types.NamespaceBundleStats{"ns1/0x0_0x40": {MsgRateIn: 1}},
	}

	view := NewLoadView()
	agg := New(view, source)
	agg.Start()
	defer agg.Stop()

	agg.OnMembershipChange(context.Background(), []string{"broker-a:8080"})

	require.Eventually(t, func() bool {
		view.Lock()
		defer view.Unlock()
		_, ok := view.Brokers["broker-a:8080"]
		return ok
	}, time.Second, 10*time.Millisecond)
}
