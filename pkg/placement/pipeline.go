// Package placement implements selectBrokerForAssignment:
// the leader-only pipeline that picks a broker for a bundle and records the
// preallocation, holding the LoadView's placement mutex for its entire
// duration.
package placement

import (
	"context"
	"errors"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/cuemby/fleetlb/pkg/metrics"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/rs/zerolog"
)

// Hydrator materializes a bundle's BundleData from whatever history the
// coordination store holds (persisted data, then legacy quota, then
// defaults).
type Hydrator interface {
	GetBundleData(ctx context.Context, bundle string) (types.BundleData, bool, error)
	GetResourceQuota(ctx context.Context, bundle string) (types.ResourceQuota, bool, error)
}

// ErrNoBrokers is returned when no broker survives the namespace policy —
// there is nothing left to place on regardless of filters or strategy.
var ErrNoBrokers = errors.New("placement: no brokers permitted for namespace")

// Pipeline implements selectBrokerForAssignment over a shared LoadView.
type Pipeline struct {
	view *aggregator.LoadView
	hydrator Hydrator

	policy NamespacePolicy
	filters []Filter
	strategy PlacementStrategy

	overloadThresholdPercentage float64

	logger zerolog.Logger
}

// Config collects Pipeline's collaborators and thresholds.
type Config struct {
	Policy NamespacePolicy
	Filters []Filter
	Strategy PlacementStrategy
	OverloadThresholdPercentage float64
}

// New creates a Pipeline over view, hydrating bundle history through
// hydrator. A nil Policy defaults to AllowAllPolicy; a nil Strategy
// defaults to LeastLoadedStrategy.
func New(view *aggregator.LoadView, hydrator Hydrator, cfg Config) *Pipeline {
	if cfg.Policy == nil {
		cfg.Policy = AllowAllPolicy{}
	}
	if cfg.Strategy == nil {
		cfg.Strategy = LeastLoadedStrategy{}
	}
	return &Pipeline{
		view: view,
		hydrator: hydrator,
		policy: cfg.Policy,
		filters: cfg.Filters,
		strategy: cfg.Strategy,
		overloadThresholdPercentage: cfg.OverloadThresholdPercentage,
		logger: log.WithComponent("placement"),
	}
}

// SelectBrokerForAssignment picks a broker for unit and records the
// preallocation. Callers must only invoke this while holding leadership
// (pkg/cluster); the pipeline itself trusts the caller.
func (p *Pipeline) SelectBrokerForAssignment(ctx context.Context, unit types.ServiceUnit) (broker string, err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.PlacementDuration)
		outcome := "assigned"
		if err != nil {
			outcome = "no_candidate"
		}
		metrics.PlacementsTotal.WithLabelValues(outcome).Inc()
	}()

	bundle := unit.BundleKey()

	p.view.Lock()
	defer p.view.Unlock()

	// Step 1: idempotency via PreallocationIndex.
	if owner, ok := p.view.Preallocation[bundle]; ok {
		return owner, nil
	}

	// Step 2: materialize BundleData, used when recording the
	// preallocation below. Hydration may block on the coordination store,
	// so it runs before we commit to a choice but still inside the
	// placement mutex, held for the whole body.
	bundleData := p.hydrate(ctx, bundle)

	allBrokers := make([]string, 0, len(p.view.Brokers))
	for b := range p.view.Brokers {
		allBrokers = append(allBrokers, b)
	}

	// Step 3: namespace/tenant policy.
	policyCompliant := p.policy.AllowedBrokers(unit.Namespace, allBrokers)
	if len(policyCompliant) == 0 {
		return "", ErrNoBrokers
	}

	// Step 4: anti-affinity shaping.
	candidates := p.shapeAntiAffinity(unit.Namespace, policyCompliant)

	// Step 5: filter pipeline; a filter error restores the
	// policy-compliant set and the pipeline continues with the next
	// filter rather than propagating the error.
	for _, f := range p.filters {
		next, ferr := f.Apply(candidates, p.view)
		if ferr != nil {
			p.logger.Warn().Err(ferr).Msg("placement filter failed, restoring policy-compliant set")
			candidates = policyCompliant
			continue
		}
		candidates = next
	}

	// Step 6: empty after filtering restores the policy-compliant set.
	if len(candidates) == 0 {
		candidates = policyCompliant
	}

	// Step 7: scoring.
	chosen, serr := p.strategy.Select(candidates, p.view)
	if serr != nil {
		return "", serr
	}

	// Step 8: overload guard, re-score once against the full
	// policy-compliant set, accepted unconditionally.
	if p.isOverloaded(chosen) {
		chosen, serr = p.strategy.Select(policyCompliant, p.view)
		if serr != nil {
			return "", serr
		}
	}

	// Step 9: record the preallocation.
	p.recordPreallocation(chosen, unit, bundle, bundleData)

	metrics.PlacementCandidatesFiltered.Observe(float64(len(candidates)))

	// Step 10.
	return chosen, nil
}

func (p *Pipeline) hydrate(ctx context.Context, bundle string) types.BundleData {
	if stats, ok := p.view.Bundles[bundle]; ok {
		return stats.ToBundleData()
	}
	if data, found, err := p.hydrator.GetBundleData(ctx, bundle); err == nil && found {
		return data
	}
	if quota, found, err := p.hydrator.GetResourceQuota(ctx, bundle); err == nil && found {
		stats := types.NewBundleStats()
		stats.SeedFromQuota(quota)
		return stats.ToBundleData()
	}
	return types.DefaultBundleStats().ToBundleData()
}

// shapeAntiAffinity removes brokers tied for the maximum count of bundles
// already hosted/preallocated in this namespace, keeping the rest; if that
// would empty the set, the step is skipped.
func (p *Pipeline) shapeAntiAffinity(namespace string, candidates []string) []string {
	if len(candidates) <= 1 {
		return candidates
	}

	maxCount := -1
	counts := make(map[string]int, len(candidates))
	for _, broker := range candidates {
		c := p.view.NamespaceBundleCount(broker, namespace)
		counts[broker] = c
		if c > maxCount {
			maxCount = c
		}
	}

	kept := make([]string, 0, len(candidates))
	for _, broker := range candidates {
		if counts[broker] != maxCount {
			kept = append(kept, broker)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

func (p *Pipeline) isOverloaded(broker string) bool {
	state, ok := p.view.Brokers[broker]
	if !ok || state.LocalData == nil {
		return false
	}
	return state.LocalData.Usage.Max() > p.overloadThresholdPercentage
}

func (p *Pipeline) recordPreallocation(broker string, unit types.ServiceUnit, bundle string, data types.BundleData) {
	p.view.Preallocation[bundle] = broker

	state, ok := p.view.Brokers[broker]
	if !ok {
		state = types.NewBrokerState()
		p.view.Brokers[broker] = state
	}
	state.PreallocatedBundleData[bundle] = data

	p.view.AddFanout(broker, unit.Namespace, unit.BundleRange)
}
