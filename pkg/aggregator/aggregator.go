package aggregator

import (
	"context"

	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/rs/zerolog"
)

// Source is how the aggregator reads the coordination store without
// depending on its concrete adapter type. It is exactly the subset of
// pkg/coordstore's typed adapter the aggregator needs.
type Source interface {
	GetLocalBrokerData(ctx context.Context, broker string) (*types.LocalBrokerData, bool, error)
	GetBundleData(ctx context.Context, bundle string) (types.BundleData, bool, error)
	GetResourceQuota(ctx context.Context, bundle string) (types.ResourceQuota, bool, error)
}

// Aggregator maintains the fleet-wide LoadView, fed by the membership and
// broker-data watchers (see watch.go) through the single-worker scheduler.
type Aggregator struct {
	view *LoadView
	source Source
	logger zerolog.Logger
	worker *worker
}

// New creates an Aggregator over view, reading broker and bundle state
// through source. Call Start before feeding it membership/data events.
func New(view *LoadView, source Source) *Aggregator {
	return &Aggregator{
		view: view,
		source: source,
		logger: log.WithComponent("aggregator"),
		worker: newWorker(),
	}
}

// View returns the LoadView this aggregator maintains, for placement and
// shedding to read.
func (a *Aggregator) View() *LoadView { return a.view }

// Start begins the single-worker scheduler.
func (a *Aggregator) Start() { a.worker.start() }

// Stop cancels the scheduler; in-flight tasks finish before it returns.
func (a *Aggregator) Stop() { a.worker.stop() }

// OnMembershipChange is the membership watcher's callback: it enqueues a
// reap + full refresh pass. Must not block or mutate state directly.
func (a *Aggregator) OnMembershipChange(ctx context.Context, alive []string) {
	a.worker.submit(func() {
		a.reapDeadBrokers(alive)
		a.updateAllBrokerData(ctx, alive)
		a.updateBundleData(ctx)
	})
}

// OnBrokerDataChange is the per-broker data watcher's callback: it enqueues
// a bundle-data aggregation pass. Must not block or mutate state directly.
func (a *Aggregator) OnBrokerDataChange(ctx context.Context, broker string) {
	a.worker.submit(func() {
		a.updateOneBrokerData(ctx, broker)
		a.updateBundleData(ctx)
	})
}

// RunUpdateAll runs one synchronous updateAll pass (reap + refresh +
// bundle-data) on the caller's goroutine, for use at startup before the
// scheduler is handling live watch events.
func (a *Aggregator) RunUpdateAll(ctx context.Context, alive []string) {
	a.reapDeadBrokers(alive)
	a.updateAllBrokerData(ctx, alive)
	a.updateBundleData(ctx)
}

// reapDeadBrokers removes BrokerState and PreallocationIndex entries for
// any broker no longer in the alive set.
func (a *Aggregator) reapDeadBrokers(alive []string) {
	a.view.Lock()
	defer a.view.Unlock()

	aliveSet := make(map[string]struct{}, len(alive))
	for _, b := range alive {
		aliveSet[b] = struct{}{}
	}

	for broker := range a.view.Brokers {
		if _, ok := aliveSet[broker]; ok {
			continue
		}
		delete(a.view.Brokers, broker)
		delete(a.view.NamespaceFanout, broker)
		for bundle, owner := range a.view.Preallocation {
			if owner == broker {
				delete(a.view.Preallocation, bundle)
			}
		}
		a.logger.Info().Str("broker", broker).Msg("reaped dead broker")
	}
}

// updateAllBrokerData refreshes LocalBrokerData for every broker currently
// in membership, creating BrokerState on first sight and dropping entries
// for brokers no longer in membership.
func (a *Aggregator) updateAllBrokerData(ctx context.Context, alive []string) {
	for _, broker := range alive {
		a.updateOneBrokerData(ctx, broker)
	}

	a.view.Lock()
	aliveSet := make(map[string]struct{}, len(alive))
	for _, b := range alive {
		aliveSet[b] = struct{}{}
	}
	for broker := range a.view.Brokers {
		if _, ok := aliveSet[broker]; !ok {
			delete(a.view.Brokers, broker)
		}
	}
	a.view.Unlock()
}

func (a *Aggregator) updateOneBrokerData(ctx context.Context, broker string) {
	data, found, err := a.source.GetLocalBrokerData(ctx, broker)
	if err != nil {
		a.logger.Warn().Err(err).Str("broker", broker).Msg("failed to read broker data, skipping this pass")
		return
	}
	if !found {
		// Missing expected node: treated as unseen, dropped silently.
		return
	}

	a.view.Lock()
	defer a.view.Unlock()

	state, ok := a.view.Brokers[broker]
	if !ok {
		state = types.NewBrokerState()
		a.view.Brokers[broker] = state
	}
	state.LocalData = data
}

// updateBundleData feeds every broker's latest lastStats samples into the
// LoadView's BundleStats, reconciles settled preallocations, and recomputes
// each broker's time-average data and namespace fanout.
func (a *Aggregator) updateBundleData(ctx context.Context) {
	a.view.Lock()
	brokers := make([]string, 0, len(a.view.Brokers))
	for broker := range a.view.Brokers {
		brokers = append(brokers, broker)
	}
	a.view.Unlock()

	for _, broker := range brokers {
		a.updateBundleDataForBroker(ctx, broker)
	}
}

func (a *Aggregator) updateBundleDataForBroker(ctx context.Context, broker string) {
	a.view.Lock()
	state, ok := a.view.Brokers[broker]
	if !ok {
		a.view.Unlock()
		return
	}
	var lastStats map[string]types.NamespaceBundleStats
	if state.LocalData != nil {
		lastStats = state.LocalData.LastStats
	}
	a.view.Unlock()

	// Hydration (§4.3 step 2) may need to read the coordination store; work
	// out which bundles are new before doing any of those blocking reads.
	type sample struct {
		bundle string
		value types.NamespaceBundleStats
	}
	var newBundles, knownBundles []sample

	a.view.Lock()
	for bundle, value := range lastStats {
		if _, ok := a.view.Bundles[bundle]; ok {
			knownBundles = append(knownBundles, sample{bundle, value})
		} else {
			newBundles = append(newBundles, sample{bundle, value})
		}
	}
	a.view.Unlock()

	hydratedStats := make(map[string]*types.BundleStats, len(newBundles))
	for _, s := range newBundles {
		hydratedStats[s.bundle] = a.hydrateBundle(ctx, s.bundle)
	}

	a.view.Lock()
	for _, s := range knownBundles {
		a.view.Bundles[s.bundle].Update(s.value)
	}
	for _, s := range newBundles {
		stats, ok := a.view.Bundles[s.bundle]
		if !ok {
			stats = hydratedStats[s.bundle]
			a.view.Bundles[s.bundle] = stats
		}
		stats.Update(s.value)
	}
	a.view.Unlock()

	a.reconcilePreallocations(state, broker, lastStats)
	a.recomputeTimeAverage(state, broker)
}

// hydrateBundle loads persisted bundle-data, falling back to a legacy
// resource quota, falling back to defaults. Must be called without the
// view lock held.
func (a *Aggregator) hydrateBundle(ctx context.Context, bundle string) *types.BundleStats {
	if data, found, err := a.source.GetBundleData(ctx, bundle); err == nil && found {
		return types.FromBundleData(data)
	}
	if quota, found, err := a.source.GetResourceQuota(ctx, bundle); err == nil && found {
		stats := types.NewBundleStats()
		stats.SeedFromQuota(quota)
		return stats
	}
	return types.DefaultBundleStats()
}

// reconcilePreallocations drops any bundle in broker's
// PreallocatedBundleData that now appears in its lastStats, from both that
// map and PreallocationIndex. Caller must not hold v.mu; this method takes
// it itself.
func (a *Aggregator) reconcilePreallocations(state *types.BrokerState, broker string, lastStats map[string]types.NamespaceBundleStats) {
	a.view.Lock()
	defer a.view.Unlock()

	for bundle := range state.PreallocatedBundleData {
		if _, settled := lastStats[bundle]; !settled {
			continue
		}
		delete(state.PreallocatedBundleData, bundle)
		if owner, ok := a.view.Preallocation[bundle]; ok && owner == broker {
			delete(a.view.Preallocation, bundle)
		}
	}

	bundleKeys := make([]string, 0, len(lastStats)+len(state.PreallocatedBundleData))
	for bundle := range lastStats {
		bundleKeys = append(bundleKeys, bundle)
	}
	for bundle := range state.PreallocatedBundleData {
		bundleKeys = append(bundleKeys, bundle)
	}
	a.view.rebuildFanout(broker, bundleKeys)
}

// recomputeTimeAverage rebuilds state.TimeAverageData as the sum over
// lastStats ∪ preallocatedBundleData.keys of their per-window averages,
// substituting default stats for any bundle not yet in the LoadView (spec
// §4.3).
func (a *Aggregator) recomputeTimeAverage(state *types.BrokerState, broker string) {
	a.view.Lock()
	defer a.view.Unlock()

	var out types.TimeAverageBrokerData
	seen := make(map[string]struct{})

	addBundle := func(bundle string) {
		if _, dup := seen[bundle]; dup {
			return
		}
		seen[bundle] = struct{}{}
		stats, ok := a.view.Bundles[bundle]
		if !ok {
			stats = types.DefaultBundleStats()
		}
		out.ShortTermMsgRateIn += stats.MsgRateIn.Short.Avg
		out.ShortTermMsgRateOut += stats.MsgRateOut.Short.Avg
		out.ShortTermMsgThroughputIn += stats.MsgThroughputIn.Short.Avg
		out.ShortTermMsgThroughputOut += stats.MsgThroughputOut.Short.Avg
		out.LongTermMsgRateIn += stats.MsgRateIn.Long.Avg
		out.LongTermMsgRateOut += stats.MsgRateOut.Long.Avg
		out.LongTermMsgThroughputIn += stats.MsgThroughputIn.Long.Avg
		out.LongTermMsgThroughputOut += stats.MsgThroughputOut.Long.Avg
	}

	if state.LocalData != nil {
		for bundle := range state.LocalData.LastStats {
			addBundle(bundle)
		}
	}
	for bundle := range state.PreallocatedBundleData {
		addBundle(bundle)
	}
	out.NumBundles = len(seen)
	state.TimeAverageData = out
}
