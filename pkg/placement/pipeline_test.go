package placement

import (
	"context"
	"testing"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHydrator struct{}

func (fakeHydrator) GetBundleData(context.Context, string) (types.BundleData, bool, error) {
	return types.BundleData{}, false, nil
}

func (fakeHydrator) GetResourceQuota(context.Context, string) (types.ResourceQuota, bool, error) {
	return types.ResourceQuota{}, false, nil
}

func brokerWithUsage(view *aggregator.LoadView, name, version string, maxUsage float64) {
	state := types.NewBrokerState()
	state.LocalData = &types.LocalBrokerData{
		AdvertisedAddress: name,
		Version: version,
		Usage: types.SystemResourceUsage{CPUPercentage: maxUsage},
	}
	view.Brokers[name] = state
}

func TestSelectBrokerForAssignment_Idempotent(t *testing.T) {
	view := aggregator.NewLoadView()
	brokerWithUsage(view, "broker-a", "1.0", 10)
	view.Preallocation["ns1/0x0_0x40"] = "broker-a"

	p := New(view, fakeHydrator{}, Config{})
	unit := types.ServiceUnit{Namespace: "ns1", BundleRange: "0x0_0x40"}

	broker, err := p.SelectBrokerForAssignment(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "broker-a", broker)
}

func TestSelectBrokerForAssignment_PicksLeastLoaded(t *testing.T) {
	view := aggregator.NewLoadView()
	brokerWithUsage(view, "broker-a", "1.0", 80)
	brokerWithUsage(view, "broker-b", "1.0", 20)

	p := New(view, fakeHydrator{}, Config{
		Strategy: LeastLoadedStrategy{},
	})
	unit := types.ServiceUnit{Namespace: "ns1", BundleRange: "0x0_0x40"}

	broker, err := p.SelectBrokerForAssignment(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "broker-b", broker)

	view.Lock()
	assert.Equal(t, "broker-b", view.Preallocation["ns1/0x0_0x40"])
	view.Unlock()
}

func TestSelectBrokerForAssignment_OverloadGuardRestoresFullSet(t *testing.T) {
	view := aggregator.NewLoadView()
	// broker-a and broker-b share the majority version, but both are
	// overloaded; broker-c is on the minority version so VersionFilter
	// narrows the candidate set to broker-a and broker-b, whose pick the
	// overload guard must then reject in favor of re-scoring the full set.
	brokerWithUsage(view, "broker-a", "2.0", 95)
	brokerWithUsage(view, "broker-b", "2.0", 95)
	brokerWithUsage(view, "broker-c", "1.0", 50)

	p := New(view, fakeHydrator{}, Config{
		Strategy: LeastLoadedStrategy{},
		Filters: []Filter{VersionFilter{}},
		OverloadThresholdPercentage: 85,
	})
	unit := types.ServiceUnit{Namespace: "ns1", BundleRange: "0x0_0x40"}

	broker, err := p.SelectBrokerForAssignment(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "broker-c", broker, "overload guard falls back to the full policy-compliant set")
}

func TestSelectBrokerForAssignment_VersionFilterKeepsMajorityVersion(t *testing.T) {
	view := aggregator.NewLoadView()
	brokerWithUsage(view, "broker-a", "2.0", 10)
	brokerWithUsage(view, "broker-b", "2.0", 20)
	brokerWithUsage(view, "broker-c", "1.0", 5)

	p := New(view, fakeHydrator{}, Config{
		Filters: []Filter{VersionFilter{}},
		Strategy: LeastLoadedStrategy{},
	})
	unit := types.ServiceUnit{Namespace: "ns1", BundleRange: "0x0_0x40"}

	broker, err := p.SelectBrokerForAssignment(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "broker-a", broker, "majority version is 2.0, broker-a is least loaded within it")
}

func TestSelectBrokerForAssignment_NoBrokersReturnsError(t *testing.T) {
	view := aggregator.NewLoadView()
	p := New(view, fakeHydrator{}, Config{})
	unit := types.ServiceUnit{Namespace: "ns1", BundleRange: "0x0_0x40"}

	_, err := p.SelectBrokerForAssignment(context.Background(), unit)
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestShapeAntiAffinity_RemovesTiedMax(t *testing.T) {
	view := aggregator.NewLoadView()
	brokerWithUsage(view, "broker-a", "1.0", 10)
	brokerWithUsage(view, "broker-b", "1.0", 10)
	view.AddFanout("broker-a", "ns1", "0x0_0x10")
	view.AddFanout("broker-a", "ns1", "0x10_0x20")
	view.AddFanout("broker-b", "ns1", "0x20_0x30")

	p := New(view, fakeHydrator{}, Config{})
	kept := p.shapeAntiAffinity("ns1", []string{"broker-a", "broker-b"})
	assert.Equal(t, []string{"broker-b"}, kept)
}

func TestShapeAntiAffinity_SkipsWhenAllTied(t *testing.T) {
	view := aggregator.NewLoadView()
	p := New(view, fakeHydrator{}, Config{})
	candidates := []string{"broker-a", "broker-b"}
	kept := p.shapeAntiAffinity("ns1", candidates)
	assert.Equal(t, candidates, kept, "all brokers tied at zero, step skipped")
}

func TestDoNamespaceBundleSplit_Unimplemented(t *testing.T) {
	view := aggregator.NewLoadView()
	p := New(view, fakeHydrator{}, Config{})
	err := p.DoNamespaceBundleSplit(context.Background(), types.ServiceUnit{Namespace: "ns1", BundleRange: "0x0_0x40"})
	require.ErrorIs(t, err, ErrBundleSplitUnsupported)
}
