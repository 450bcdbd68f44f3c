package shedding

import (
	"time"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/types"
)

// OverloadedBrokerStrategy sheds bundles from the single most overloaded
// broker, picking its highest message-rate bundle first, down toward the
// overload threshold one cycle at a time — a conservative strategy that
// avoids destabilizing the fleet by draining one broker all at once.
type OverloadedBrokerStrategy struct {
	ThresholdPercentage float64
}

func (s OverloadedBrokerStrategy) SelectCandidates(view *aggregator.LoadView, recentlyUnloaded map[string]time.Time) []Candidate {
	worstBroker, worstUsage := "", s.ThresholdPercentage
	for broker, state := range view.Brokers {
		if state.LocalData == nil {
			continue
		}
		usage := state.LocalData.Usage.Max()
		if usage > worstUsage {
			worstBroker, worstUsage = broker, usage
		}
	}
	if worstBroker == "" {
		return nil
	}

	state := view.Brokers[worstBroker]
	bestBundle, bestRate := "", -1.0
	for bundle := range state.LocalData.LastStats {
		if withinGrace(bundle, recentlyUnloaded) {
			continue
		}
		stats, ok := view.Bundles[bundle]
		if !ok {
			continue
		}
		rate := stats.ShortRateSum()
		if rate > bestRate {
			bestBundle, bestRate = bundle, rate
		}
	}
	if bestBundle == "" {
		return nil
	}

	namespace, bundleRange := types.ParseBundleKey(bestBundle)
	return []Candidate{{
		Bundle: bestBundle,
		Namespace: namespace,
		BundleRange: bundleRange,
		Broker: worstBroker,
	}}
}

// ThresholdShedder sheds every bundle on every broker currently above the
// overload threshold: a blunter strategy useful for fast fleet drains
// (e.g. a maintenance operation) rather than steady-state rebalancing.
type ThresholdShedder struct {
	ThresholdPercentage float64
}

func (s ThresholdShedder) SelectCandidates(view *aggregator.LoadView, recentlyUnloaded map[string]time.Time) []Candidate {
	var out []Candidate
	for broker, state := range view.Brokers {
		if state.LocalData == nil || state.LocalData.Usage.Max() <= s.ThresholdPercentage {
			continue
		}
		for bundle := range state.LocalData.LastStats {
			if withinGrace(bundle, recentlyUnloaded) {
				continue
			}
			namespace, bundleRange := types.ParseBundleKey(bundle)
			out = append(out, Candidate{
				Bundle: bundle,
				Namespace: namespace,
				BundleRange: bundleRange,
				Broker: broker,
			})
		}
	}
	return out
}

func withinGrace(bundle string, recentlyUnloaded map[string]time.Time) bool {
	_, ok := recentlyUnloaded[bundle]
	return ok
}
