package placement

import (
	"errors"

	"github.com/cuemby/fleetlb/pkg/aggregator"
)

// ErrNoCandidate is returned by a PlacementStrategy given an empty candidate
// set; Pipeline treats this as a placement failure, it has no further
// fallback once the full policy-compliant set is also empty.
var ErrNoCandidate = errors.New("placement: no candidate brokers")

// PlacementStrategy scores a non-empty candidate set and picks one broker.
type PlacementStrategy interface {
	Select(candidates []string, view *aggregator.LoadView) (string, error)
}

// LeastLoadedStrategy picks the broker with the smallest maxResourceUsage:
// least-loaded by max resource usage.
type LeastLoadedStrategy struct{}

func (LeastLoadedStrategy) Select(candidates []string, view *aggregator.LoadView) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidate
	}
	best, bestUsage := "", 0.0
	for i, broker := range candidates {
		usage := 0.0
		if state, ok := view.Brokers[broker]; ok && state.LocalData != nil {
			usage = state.LocalData.Usage.Max()
		}
		if i == 0 || usage < bestUsage {
			best, bestUsage = broker, usage
		}
	}
	return best, nil
}

// LeastBundlesStrategy picks the broker currently serving or preallocated
// the fewest bundles, a common secondary load-manager strategy.
type LeastBundlesStrategy struct{}

func (LeastBundlesStrategy) Select(candidates []string, view *aggregator.LoadView) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidate
	}
	best, bestCount := "", 0
	for i, broker := range candidates {
		count := 0
		if state, ok := view.Brokers[broker]; ok {
			count = len(state.PreallocatedBundleData)
			if state.LocalData != nil {
				count += state.LocalData.NumBundles
			}
		}
		if i == 0 || count < bestCount {
			best, bestCount = broker, count
		}
	}
	return best, nil
}
