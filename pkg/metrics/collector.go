package metrics

import (
	"time"

	"github.com/cuemby/fleetlb/pkg/aggregator"
)

// LeadershipSource reports this node's current leadership-gate state,
// implemented by pkg/cluster. Collector depends on this narrow interface
// rather than the cluster package directly so it can run in tests without a
// Raft cluster attached.
type LeadershipSource interface {
	IsLeader() bool
	Peers() int
}

// Collector periodically snapshots the aggregator's LoadView and the
// leadership gate into the Prometheus gauges registered in metrics.go.
type Collector struct {
	view *aggregator.LoadView
	leadership LeadershipSource
	stopCh chan struct{}
}

// NewCollector creates a Collector over view. leadership may be nil, in
// which case the Raft gauges are left untouched.
func NewCollector(view *aggregator.LoadView, leadership LeadershipSource) *Collector {
	return &Collector{
		view: view,
		leadership: leadership,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLoadViewMetrics()
	c.collectLeadershipMetrics()
}

func (c *Collector) collectLoadViewMetrics() {
	c.view.Lock()
	defer c.view.Unlock()

	BrokersTotal.WithLabelValues("alive").Set(float64(len(c.view.Brokers)))
	BundlesTotal.Set(float64(len(c.view.Bundles)))
	PreallocatedBundlesTotal.Set(float64(len(c.view.Preallocation)))
	RecentlyUnloadedTotal.Set(float64(len(c.view.RecentlyUnloaded)))

	for broker, state := range c.view.Brokers {
		if state.LocalData == nil {
			continue
		}
		BrokerMaxResourceUsage.WithLabelValues(broker).Set(state.LocalData.Usage.Max())
	}
}

func (c *Collector) collectLeadershipMetrics() {
	if c.leadership == nil {
		return
	}
	if c.leadership.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftPeers.Set(float64(c.leadership.Peers()))
	if idx, ok := c.leadership.(interface {
		LastIndex() uint64
		AppliedIndex() uint64
	}); ok {
		RaftLogIndex.Set(float64(idx.LastIndex()))
		RaftAppliedIndex.Set(float64(idx.AppliedIndex()))
	}
}
