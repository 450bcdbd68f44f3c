package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	BrokersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetlb_brokers_total",
			Help: "Total number of brokers known to the load view, by liveness",
		},
		[]string{"status"},
	)

	BundlesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_bundles_total",
			Help: "Total number of bundles with statistics in the load view",
		},
	)

	PreallocatedBundlesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_preallocated_bundles_total",
			Help: "Total number of bundles currently preallocated but not yet settled",
		},
	)

	RecentlyUnloadedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_recently_unloaded_total",
			Help: "Total number of bundles within their post-unload shedding grace period",
		},
	)

	BrokerMaxResourceUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetlb_broker_max_resource_usage_percent",
			Help: "Largest tracked resource usage percentage reported by each broker",
		},
		[]string{"broker"},
	)

	// Leadership metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_raft_is_leader",
			Help: "Whether this node currently holds the leadership gate (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// Placement metrics
	PlacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlb_placements_total",
			Help: "Total number of placement decisions by outcome",
		},
		[]string{"outcome"}, // assigned, no_candidate
	)

	PlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "fleetlb_placement_duration_seconds",
			Help: "Time taken to select a broker for a bundle assignment",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementCandidatesFiltered = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "fleetlb_placement_candidates_filtered",
			Help: "Number of candidate brokers remaining after filters ran, per placement",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
		},
	)

	// Shedding metrics
	SheddingCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetlb_shedding_cycles_total",
			Help: "Total number of load-shedding cycles run",
		},
	)

	SheddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "fleetlb_shedding_duration_seconds",
			Help: "Time taken for a load-shedding cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	BundlesShedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlb_bundles_shed_total",
			Help: "Total number of bundles unloaded by the shedding strategy, by reason",
		},
		[]string{"reason"},
	)

	OverloadedBrokersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_overloaded_brokers_total",
			Help: "Number of brokers currently above the overload threshold",
		},
	)

	// Reporter metrics
	PublishTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlb_publish_triggers_total",
			Help: "Total number of times the publish predicate fired, by triggering field",
		},
		[]string{"field"},
	)

	HostProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "fleetlb_hostprobe_sample_duration_seconds",
			Help: "Time taken to sample local host resource usage",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Coordination store metrics
	CoordStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetlb_coordstore_errors_total",
			Help: "Total number of coordination store operation errors, by operation",
		},
		[]string{"operation"},
	)

	// Aggregator metrics
	AggregatorQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetlb_aggregator_queue_depth",
			Help: "Number of pending tasks queued on the aggregator's single worker",
		},
	)
)

func init() {
	prometheus.MustRegister(BrokersTotal)
	prometheus.MustRegister(BundlesTotal)
	prometheus.MustRegister(PreallocatedBundlesTotal)
	prometheus.MustRegister(RecentlyUnloadedTotal)
	prometheus.MustRegister(BrokerMaxResourceUsage)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(PlacementsTotal)
	prometheus.MustRegister(PlacementDuration)
	prometheus.MustRegister(PlacementCandidatesFiltered)
	prometheus.MustRegister(SheddingCyclesTotal)
	prometheus.MustRegister(SheddingDuration)
	prometheus.MustRegister(BundlesShedTotal)
	prometheus.MustRegister(OverloadedBrokersTotal)
	prometheus.MustRegister(PublishTriggersTotal)
	prometheus.MustRegister(HostProbeDuration)
	prometheus.MustRegister(CoordStoreErrorsTotal)
	prometheus.MustRegister(AggregatorQueueDepth)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing their duration to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
