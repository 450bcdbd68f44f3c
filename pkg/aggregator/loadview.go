// Package aggregator builds and maintains the fleet-wide LoadView: per-broker
// state and per-bundle statistics derived from broker reports observed
// through the coordination store's membership and data watchers. Every
// method here is meant to run on the single-worker scheduler defined in
// scheduler.go; none of it is safe to call concurrently with itself.
package aggregator

import (
	"sync"
	"time"

	"github.com/cuemby/fleetlb/pkg/types"
)

// LoadView is the aggregator's root: fleet-wide broker state, per-bundle
// statistics, and the set of bundles too recently unloaded to re-shed.
type LoadView struct {
	// mu guards the sections also read by placement (PreallocatedBundleData,
	// PreallocationIndex, NamespaceFanout); it is the same monitor placement
	// takes for the whole selectBrokerForAssignment body,
	mu sync.Mutex

	Brokers map[string]*types.BrokerState
	Bundles map[string]*types.BundleStats

	RecentlyUnloaded map[string]time.Time

	Preallocation PreallocationIndex

	// NamespaceFanout[broker][namespace] is the set of bundle ranges that
	// broker currently hosts or has been preallocated in that namespace,
	// used by placement's anti-affinity shaping.
	NamespaceFanout map[string]map[string]map[string]struct{}
}

// PreallocationIndex is the shared bundle->broker index of pending
// placements. It duplicates information already held in BrokerState; treat
// it strictly as a cache, never as the authoritative record.
type PreallocationIndex map[string]string

// NewLoadView returns an empty LoadView ready for aggregation passes.
func NewLoadView() *LoadView {
	return &LoadView{
		Brokers: make(map[string]*types.BrokerState),
		Bundles: make(map[string]*types.BundleStats),
		RecentlyUnloaded: make(map[string]time.Time),
		Preallocation: make(PreallocationIndex),
		NamespaceFanout: make(map[string]map[string]map[string]struct{}),
	}
}

// Lock and Unlock expose the placement monitor to the placement package.
// Aggregator methods that touch the shared sections take it internally;
// placement.Pipeline holds it for the full selectBrokerForAssignment body.
func (v *LoadView) Lock() { v.mu.Lock() }
func (v *LoadView) Unlock() { v.mu.Unlock() }

// fanoutFor returns (creating if absent) the namespace->bundle-range set for
// one broker. Caller must hold v.mu.
func (v *LoadView) fanoutFor(broker string) map[string]map[string]struct{} {
	m, ok := v.NamespaceFanout[broker]
	if !ok {
		m = make(map[string]map[string]struct{})
		v.NamespaceFanout[broker] = m
	}
	return m
}

// addFanout records that broker hosts or has been preallocated bundleRange
// in namespace. Caller must hold v.mu.
func (v *LoadView) addFanout(broker, namespace, bundleRange string) {
	ns := v.fanoutFor(broker)
	set, ok := ns[namespace]
	if !ok {
		set = make(map[string]struct{})
		ns[namespace] = set
	}
	set[bundleRange] = struct{}{}
}

// AddFanout is addFanout exported for placement.Pipeline, which records a
// preallocation's namespace fanout entry while already holding v's monitor.
func (v *LoadView) AddFanout(broker, namespace, bundleRange string) {
	v.addFanout(broker, namespace, bundleRange)
}

// rebuildFanout replaces broker's namespace fanout with the union of its
// current lastStats keys and preallocated bundle keys. Caller must hold v.mu.
func (v *LoadView) rebuildFanout(broker string, bundleKeys []string) {
	ns := make(map[string]map[string]struct{})
	for _, bundle := range bundleKeys {
		namespace, bundleRange := types.ParseBundleKey(bundle)
		set, ok := ns[namespace]
		if !ok {
			set = make(map[string]struct{})
			ns[namespace] = set
		}
		set[bundleRange] = struct{}{}
	}
	v.NamespaceFanout[broker] = ns
}

// NamespaceBundleCount returns how many bundles of namespace the given
// broker currently hosts or has been preallocated, for anti-affinity
// shaping. Caller must hold v.mu (placement already does, for the duration
// of selectBrokerForAssignment).
func (v *LoadView) NamespaceBundleCount(broker, namespace string) int {
	ns, ok := v.NamespaceFanout[broker]
	if !ok {
		return 0
	}
	return len(ns[namespace])
}
