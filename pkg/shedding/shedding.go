// Package shedding implements doLoadShedding: the leader-only
// periodic scan that picks overloaded brokers' bundles to unload so the
// namespace layer can reassign them elsewhere.
package shedding

import (
	"context"
	"time"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/cuemby/fleetlb/pkg/metrics"
	"github.com/rs/zerolog"
)

// AdminClient issues the unload RPC against a broker. The admin client
// itself is an external collaborator out of scope; pkg/rpc
// provides a gRPC-backed implementation.
type AdminClient interface {
	UnloadNamespaceBundle(ctx context.Context, broker, namespace, bundleRange string) error
}

// Candidate is one bundle a LoadSheddingStrategy proposes to unload.
type Candidate struct {
	Bundle string // "<namespace>/<bundleRange>"
	Namespace string
	BundleRange string
	Broker string // current owner
}

// LoadSheddingStrategy proposes bundles to unload, consulting
// recentlyUnloaded to avoid re-proposing bundles still within their grace
// period.
type LoadSheddingStrategy interface {
	SelectCandidates(view *aggregator.LoadView, recentlyUnloaded map[string]time.Time) []Candidate
}

// Shedder runs doLoadShedding on a schedule, leader-only.
type Shedder struct {
	view *aggregator.LoadView
	admin AdminClient
	strategies []LoadSheddingStrategy

	enabled bool
	gracePeriod time.Duration
	logger zerolog.Logger
}

// Config collects Shedder's strategies and thresholds
// (loadBalancerSheddingGracePeriodMinutes / loadBalancerSheddingEnabled).
type Config struct {
	Strategies []LoadSheddingStrategy
	Enabled bool
	GracePeriod time.Duration
}

// New creates a Shedder over view, issuing unloads through admin.
func New(view *aggregator.LoadView, admin AdminClient, cfg Config) *Shedder {
	return &Shedder{
		view: view,
		admin: admin,
		strategies: cfg.Strategies,
		enabled: cfg.Enabled,
		gracePeriod: cfg.GracePeriod,
		logger: log.WithComponent("shedding"),
	}
}

// DoLoadShedding runs one shedding pass: if disabled, or fewer than
// two live brokers, do nothing. Otherwise prune the grace-period map, then
// run each strategy in order until one proposes a non-empty candidate set;
// that strategy wins and every one of its candidates is unloaded, logging
// (not failing) individual unload errors.
func (s *Shedder) DoLoadShedding(ctx context.Context) {
	if !s.enabled {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SheddingDuration)
	metrics.SheddingCyclesTotal.Inc()

	s.view.Lock()
	brokerCount := len(s.view.Brokers)
	s.pruneRecentlyUnloadedLocked()
	s.view.Unlock()

	if brokerCount < 2 {
		return
	}

	for _, strategy := range s.strategies {
		s.view.Lock()
		snapshot := cloneRecentlyUnloaded(s.view.RecentlyUnloaded)
		candidates := strategy.SelectCandidates(s.view, snapshot)
		s.view.Unlock()

		if len(candidates) == 0 {
			continue
		}

		s.unload(ctx, candidates)
		return
	}
}

func (s *Shedder) unload(ctx context.Context, candidates []Candidate) {
	now := time.Now()
	for _, c := range candidates {
		if err := s.admin.UnloadNamespaceBundle(ctx, c.Broker, c.Namespace, c.BundleRange); err != nil {
			s.logger.Warn().Err(err).
				Str("broker", c.Broker).
				Str("bundle", c.Bundle).
				Msg("failed to unload bundle, continuing with remaining candidates")
			metrics.BundlesShedTotal.WithLabelValues("error").Inc()
			continue
		}

		s.view.Lock()
		s.view.RecentlyUnloaded[c.Bundle] = now
		s.view.Unlock()

		metrics.BundlesShedTotal.WithLabelValues("shed").Inc()
		s.logger.Info().Str("broker", c.Broker).Str("bundle", c.Bundle).Msg("unloaded bundle")
	}
}

// pruneRecentlyUnloadedLocked drops grace-period entries older than
// gracePeriod. Caller must hold s.view's lock.
func (s *Shedder) pruneRecentlyUnloadedLocked() {
	cutoff := time.Now().Add(-s.gracePeriod)
	for bundle, at := range s.view.RecentlyUnloaded {
		if at.Before(cutoff) {
			delete(s.view.RecentlyUnloaded, bundle)
		}
	}
}

func cloneRecentlyUnloaded(m map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
