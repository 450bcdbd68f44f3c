package placement

import (
	"errors"

	"github.com/cuemby/fleetlb/pkg/aggregator"
)

// ErrFilterFailed is returned by a Filter that cannot make a decision (for
// example, insufficient data to compute a majority). Pipeline treats it as
// "restore the full policy-compliant set and continue", never propagating
// it to the caller.
var ErrFilterFailed = errors.New("placement: filter failed")

// Filter narrows a candidate broker set. Apply must not take view's lock
// itself: Pipeline already holds the placement mutex for the whole
// selectBrokerForAssignment body before calling into any filter.
type Filter interface {
	Apply(candidates []string, view *aggregator.LoadView) ([]string, error)
}

// VersionFilter keeps only brokers running the majority-observed version,
// excluding any broker whose version differs from that majority.
type VersionFilter struct{}

func (VersionFilter) Apply(candidates []string, view *aggregator.LoadView) ([]string, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	counts := make(map[string]int, 4)
	for _, broker := range candidates {
		state, ok := view.Brokers[broker]
		if !ok || state.LocalData == nil {
			continue
		}
		counts[state.LocalData.Version]++
	}
	if len(counts) == 0 {
		return nil, ErrFilterFailed
	}

	majority, best := "", -1
	for version, count := range counts {
		if count > best {
			majority, best = version, count
		}
	}

	var kept []string
	for _, broker := range candidates {
		state, ok := view.Brokers[broker]
		if ok && state.LocalData != nil && state.LocalData.Version == majority {
			kept = append(kept, broker)
		}
	}
	return kept, nil
}

// ResourceUsageFilter drops brokers already at or above the overload
// threshold before scoring runs, so the overload guard's re-score path is
// the exception rather than the common case.
type ResourceUsageFilter struct {
	ThresholdPercentage float64
}

func (f ResourceUsageFilter) Apply(candidates []string, view *aggregator.LoadView) ([]string, error) {
	var kept []string
	for _, broker := range candidates {
		state, ok := view.Brokers[broker]
		if !ok || state.LocalData == nil {
			continue
		}
		if state.LocalData.Usage.Max() < f.ThresholdPercentage {
			kept = append(kept, broker)
		}
	}
	return kept, nil
}
