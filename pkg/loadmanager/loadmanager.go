// Package loadmanager is the composition root tying the aggregator,
// placement pipeline, reporter, and shedder together into the running
// running load manager: one instance per broker, always reporting, only
// the elected leader running the periodic leader-only passes.
package loadmanager

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/coordstore"
	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/cuemby/fleetlb/pkg/placement"
	"github.com/cuemby/fleetlb/pkg/reporter"
	"github.com/cuemby/fleetlb/pkg/shedding"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/rs/zerolog"
)

// LeadershipSource reports this node's current standing in the cluster;
// pkg/cluster.Gate satisfies it.
type LeadershipSource interface {
	IsLeader() bool
	LeadershipCh() <-chan bool
}

// Config collects every interval the load manager schedules on its own,
// independent of the per-package thresholds already carried by Reporter,
// Pipeline, and Shedder's own Config structs.
type Config struct {
	ReportInterval time.Duration // how often WriteBrokerDataIfNeeded is evaluated
	SheddingInterval time.Duration // how often DoLoadShedding runs, leader-only
	PersistenceInterval time.Duration // how often warm history is persisted, leader-only
}

// LoadManager runs one broker's full load-management lifecycle: it always
// aggregates and reports, and serves placement requests, but only runs
// load shedding while it holds cluster leadership.
type LoadManager struct {
	cfg Config

	aggregator *aggregator.Aggregator
	reporter *reporter.Reporter
	pipeline *placement.Pipeline
	shedder *shedding.Shedder
	leadership LeadershipSource
	store *coordstore.Adapter

	logger zerolog.Logger

	mu sync.Mutex
	running bool
	cancel context.CancelFunc
	wg sync.WaitGroup
}

// New assembles a LoadManager from its already-constructed collaborators.
// leadership may be nil for a single-broker deployment; this node is then
// treated as the leader, so it runs shedding and warm-history persistence
// itself.
func New(cfg Config, agg *aggregator.Aggregator, rep *reporter.Reporter, pipeline *placement.Pipeline, shedder *shedding.Shedder, leadership LeadershipSource, store *coordstore.Adapter) *LoadManager {
	return &LoadManager{
		cfg: cfg,
		aggregator: agg,
		reporter: rep,
		pipeline: pipeline,
		shedder: shedder,
		leadership: leadership,
		store: store,
		logger: log.WithComponent("loadmanager"),
	}
}

// Start brings the aggregator, membership/broker-data watchers, and the
// reporting and leadership-gated shedding loops up. It runs one synchronous
// updateAll pass before returning, so placement has a populated LoadView
// immediately.
func (m *LoadManager) Start(ctx context.Context, client coordstore.Client, selfBroker string) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.aggregator.Start()

	m.aggregator.RunUpdateAll(runCtx, m.currentMembership(runCtx, client))

	m.wg.Add(5)
	go func() { defer m.wg.Done(); m.aggregator.WatchMembership(runCtx, client) }()
	go func() { defer m.wg.Done(); m.runBrokerDataWatch(runCtx, client) }()
	go func() { defer m.wg.Done(); m.runReportLoop(runCtx) }()
	go func() { defer m.wg.Done(); m.runLeadershipGatedShedding(runCtx) }()
	go func() { defer m.wg.Done(); m.runLeadershipGatedPersistence(runCtx) }()

	m.logger.Info().Str("broker", selfBroker).Msg("load manager started")
}

// Stop cancels every running loop and waits for them to exit, then stops
// the aggregator's worker.
func (m *LoadManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.aggregator.Stop()
	m.logger.Info().Msg("load manager stopped")
}

// DisableBroker deletes this broker's znode from the coordination store
// and removes it from the LoadView immediately rather than waiting
// for the membership watcher to observe its departure.
func (m *LoadManager) DisableBroker(ctx context.Context, broker string) error {
	if err := m.store.Client().Delete(ctx, coordstore.BrokerDataPath(broker)); err != nil {
		return err
	}

	view := m.aggregator.View()
	view.Lock()
	defer view.Unlock()
	delete(view.Brokers, broker)
	delete(view.NamespaceFanout, broker)
	for bundle, owner := range view.Preallocation {
		if owner == broker {
			delete(view.Preallocation, bundle)
		}
	}
	return nil
}

// runLeadershipGatedPersistence snapshots the fleet's warm history to the
// coordination store on PersistenceInterval, leader-only: a successor
// leader hydrates bundle and broker time-average state from these paths
// instead of starting cold. With a nil LeadershipSource (single-broker
// deployments), it treats the node as always leader.
func (m *LoadManager) runLeadershipGatedPersistence(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PersistenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.leadership != nil && !m.leadership.IsLeader() {
				continue
			}
			m.persistWarmHistory(ctx)
		}
	}
}

// persistWarmHistory writes every tracked bundle's current BundleStats to
// coordstore.BundleDataPath and every live broker's TimeAverageData to
// coordstore.BrokerTimeAveragePath. Individual write failures are logged
// and skipped; the next tick re-attempts them.
func (m *LoadManager) persistWarmHistory(ctx context.Context) {
	view := m.aggregator.View()

	view.Lock()
	bundleSnapshots := make(map[string]types.BundleData, len(view.Bundles))
	for bundle, stats := range view.Bundles {
		bundleSnapshots[bundle] = stats.ToBundleData()
	}
	brokerSnapshots := make(map[string]types.TimeAverageBrokerData, len(view.Brokers))
	for broker, state := range view.Brokers {
		brokerSnapshots[broker] = state.TimeAverageData
	}
	view.Unlock()

	for bundle, data := range bundleSnapshots {
		if err := coordstore.UpsertJSON(ctx, m.store, coordstore.BundleDataPath(bundle), data); err != nil {
			m.logger.Warn().Err(err).Str("bundle", bundle).Msg("failed to persist bundle warm history")
		}
	}
	for broker, data := range brokerSnapshots {
		if err := coordstore.UpsertJSON(ctx, m.store, coordstore.BrokerTimeAveragePath(broker), data); err != nil {
			m.logger.Warn().Err(err).Str("broker", broker).Msg("failed to persist broker time-average warm history")
		}
	}
}

// currentMembership does a one-shot read of the brokers path's children to
// seed the first RunUpdateAll pass before the watch goroutine takes over.
func (m *LoadManager) currentMembership(ctx context.Context, client coordstore.Client) []string {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, watchCancel := client.ChildrenWithWatch(watchCtx, coordstore.BrokersPath)
	defer watchCancel()
	select {
	case alive, ok := <-ch:
		if !ok {
			return nil
		}
		return alive
	case <-ctx.Done():
		return nil
	}
}

// runBrokerDataWatch keeps Aggregator.WatchBrokerData running over the
// current membership set: it watches /loadbalance/brokers itself (a second,
// independent watch alongside the aggregator's own membership watcher) and,
// on every change, cancels the previous per-broker watch goroutines and
// restarts them over the new broker list, per WatchBrokerData's own
// "the membership watcher is expected to restart this" contract.
func (m *LoadManager) runBrokerDataWatch(ctx context.Context, client coordstore.Client) {
	ch, cancel := client.ChildrenWithWatch(ctx, coordstore.BrokersPath)
	defer cancel()

	var activeCancel context.CancelFunc
	var activeDone chan struct{}
	stopActive := func() {
		if activeCancel != nil {
			activeCancel()
			<-activeDone
			activeCancel = nil
			activeDone = nil
		}
	}
	defer stopActive()

	for {
		select {
		case <-ctx.Done():
			return
		case alive, ok := <-ch:
			if !ok {
				return
			}
			stopActive()
			watchCtx, watchCancel := context.WithCancel(ctx)
			done := make(chan struct{})
			activeCancel = watchCancel
			activeDone = done
			go func(brokers []string) {
				defer close(done)
				m.aggregator.WatchBrokerData(watchCtx, client, brokers)
			}(alive)
		}
	}
}

// runReportLoop evaluates WriteBrokerDataIfNeeded on ReportInterval,
// unconditionally of leadership: every broker reports its own data (spec
// §4.1).
func (m *LoadManager) runReportLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.reporter.WriteBrokerDataIfNeeded(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("failed to write broker data")
			}
		}
	}
}

// runLeadershipGatedShedding runs DoLoadShedding on SheddingInterval only
// while this node is leader. With a nil LeadershipSource (single-broker
// deployments), it treats the node as always leader.
func (m *LoadManager) runLeadershipGatedShedding(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SheddingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.leadership != nil && !m.leadership.IsLeader() {
				continue
			}
			m.shedder.DoLoadShedding(ctx)
		}
	}
}
