package shedding

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	calls []string
	fail map[string]bool
}

func (f *fakeAdmin) UnloadNamespaceBundle(_ context.Context, broker, namespace, bundleRange string) error {
	key := broker + ":" + namespace + "/" + bundleRange
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return assertErr
	}
	return nil
}

var assertErr = errAdmin{}

type errAdmin struct{}

func (errAdmin) Error() string { return "admin rpc failed" }

func overloadedBroker(view *aggregator.LoadView, name string, usage float64, bundles map[string]float64) {
	state := types.NewBrokerState()
	state.LocalData = &types.LocalBrokerData{
		Usage: types.SystemResourceUsage{CPUPercentage: usage},
		LastStats: make(map[string]types.NamespaceBundleStats),
	}
	for bundle, rate := range bundles {
		state.LocalData.LastStats[bundle] = types.NamespaceBundleStats{MsgRateIn: rate}
		stats := types.NewBundleStats()
		stats.Update(types.NamespaceBundleStats{MsgRateIn: rate})
		view.Bundles[bundle] = stats
	}
	view.Brokers[name] = state
}

func TestDoLoadShedding_SkipsWhenDisabled(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0": 100})
	overloadedBroker(view, "broker-b", 10, nil)

	admin := &fakeAdmin{}
	s := New(view, admin, Config{
		Enabled: false,
		Strategies: []LoadSheddingStrategy{OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())
	assert.Empty(t, admin.calls)
}

func TestDoLoadShedding_SkipsWithFewerThanTwoBrokers(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0": 100})

	admin := &fakeAdmin{}
	s := New(view, admin, Config{
		Enabled: true,
		Strategies: []LoadSheddingStrategy{OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())
	assert.Empty(t, admin.calls)
}

func TestDoLoadShedding_ShedsFromOverloadedBroker(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0_0x10": 100, "ns1/0x10_0x20": 10})
	overloadedBroker(view, "broker-b", 10, nil)

	admin := &fakeAdmin{}
	s := New(view, admin, Config{
		Enabled: true,
		GracePeriod: time.Hour,
		Strategies: []LoadSheddingStrategy{OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())

	require.Len(t, admin.calls, 1)
	assert.Equal(t, "broker-a:ns1/0x0_0x10", admin.calls[0], "highest-rate bundle is shed first")

	view.Lock()
	_, recorded := view.RecentlyUnloaded["ns1/0x0_0x10"]
	view.Unlock()
	assert.True(t, recorded)
}

func TestDoLoadShedding_RespectsGracePeriod(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0_0x10": 100})
	overloadedBroker(view, "broker-b", 10, nil)
	view.RecentlyUnloaded["ns1/0x0_0x10"] = time.Now()

	admin := &fakeAdmin{}
	s := New(view, admin, Config{
		Enabled: true,
		GracePeriod: time.Hour,
		Strategies: []LoadSheddingStrategy{OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())
	assert.Empty(t, admin.calls, "bundle still within grace period must not be re-proposed")
}

func TestDoLoadShedding_PrunesExpiredGraceEntries(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0_0x10": 100})
	overloadedBroker(view, "broker-b", 10, nil)
	view.RecentlyUnloaded["ns1/0x0_0x10"] = time.Now().Add(-2 * time.Hour)

	admin := &fakeAdmin{}
	s := New(view, admin, Config{
		Enabled: true,
		GracePeriod: time.Hour,
		Strategies: []LoadSheddingStrategy{OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())
	assert.Len(t, admin.calls, 1, "expired grace entry should be pruned and eligible again")
}

func TestDoLoadShedding_FirstProductiveStrategyWins(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0_0x10": 100})
	overloadedBroker(view, "broker-b", 10, nil)

	admin := &fakeAdmin{}
	empty := emptyStrategy{}
	s := New(view, admin, Config{
		Enabled: true,
		GracePeriod: time.Hour,
		Strategies: []LoadSheddingStrategy{empty, OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())
	assert.Len(t, admin.calls, 1)
}

type emptyStrategy struct{}

func (emptyStrategy) SelectCandidates(*aggregator.LoadView, map[string]time.Time) []Candidate {
	return nil
}

func TestDoLoadShedding_ContinuesPastUnloadError(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0_0x10": 100})
	overloadedBroker(view, "broker-b", 10, nil)

	admin := &fakeAdmin{fail: map[string]bool{"broker-a:ns1/0x0_0x10": true}}
	s := New(view, admin, Config{
		Enabled: true,
		GracePeriod: time.Hour,
		Strategies: []LoadSheddingStrategy{OverloadedBrokerStrategy{ThresholdPercentage: 85}},
	})
	require.NotPanics(t, func() { s.DoLoadShedding(context.Background()) })

	view.Lock()
	_, recorded := view.RecentlyUnloaded["ns1/0x0_0x10"]
	view.Unlock()
	assert.False(t, recorded, "failed unload must not be recorded as shed")
}

func TestThresholdShedder_ShedsAllBundlesOnOverloadedBrokers(t *testing.T) {
	view := aggregator.NewLoadView()
	overloadedBroker(view, "broker-a", 95, map[string]float64{"ns1/0x0_0x10": 100, "ns1/0x10_0x20": 5})
	overloadedBroker(view, "broker-b", 10, nil)

	admin := &fakeAdmin{}
	s := New(view, admin, Config{
		Enabled: true,
		GracePeriod: time.Hour,
		Strategies: []LoadSheddingStrategy{ThresholdShedder{ThresholdPercentage: 85}},
	})
	s.DoLoadShedding(context.Background())
	assert.Len(t, admin.calls, 2)
}
