// Package reporter implements the local reporter: it samples
// this broker's own resource usage and currently-served bundles, decides
// whether the change is meaningful enough to publish, and if so writes
// LocalBrokerData to the coordination store.
package reporter

import (
	"context"
	"math"
	"time"

	"github.com/cuemby/fleetlb/pkg/coordstore"
	"github.com/cuemby/fleetlb/pkg/hostprobe"
	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/cuemby/fleetlb/pkg/metrics"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/rs/zerolog"
)

// ServingLayer is the boundary to this broker's local serving layer: the
// component that actually owns bundles and can report what it is currently
// serving. Out of scope as a collaborator; this is the
// interface the reporter needs from it.
type ServingLayer interface {
	// BundleStats returns this broker's current per-bundle sample set, the
	// same shape published as LocalBrokerData.LastStats.
	BundleStats(ctx context.Context) map[string]types.NamespaceBundleStats
}

// Reporter owns this broker's LocalBrokerData lifecycle.
type Reporter struct {
	advertised string
	webServiceURL string
	pulsarServiceURL string
	version string

	probe hostprobe.Probe
	serving ServingLayer
	store *coordstore.Adapter

	maxInterval time.Duration
	thresholdPercentage float64

	logger zerolog.Logger

	current types.LocalBrokerData
	lastData types.LocalBrokerData
	lastPublish time.Time
}

// Config collects the reporter's static identity and publish thresholds
// (reportUpdateMaxIntervalMinutes/reportUpdateThresholdPercentage).
type Config struct {
	Advertised string
	WebServiceURL string
	PulsarServiceURL string
	Version string
	MaxInterval time.Duration
	ThresholdPercentage float64
}

// New creates a Reporter for this broker's own identity, sampling through
// probe and serving.
func New(cfg Config, probe hostprobe.Probe, serving ServingLayer, store *coordstore.Adapter) *Reporter {
	return &Reporter{
		advertised: cfg.Advertised,
		webServiceURL: cfg.WebServiceURL,
		pulsarServiceURL: cfg.PulsarServiceURL,
		version: cfg.Version,
		probe: probe,
		serving: serving,
		store: store,
		maxInterval: cfg.MaxInterval,
		thresholdPercentage: cfg.ThresholdPercentage,
		logger: log.WithComponent("reporter").With().Str("broker", cfg.Advertised).Logger(),
	}
}

// UpdateLocalBrokerData reads the host probe and the serving layer, merges
// them into the in-memory localData, and updates the delta sets
// (lastBundleGains/lastBundleLosses) against the last *published* snapshot
//.
func (r *Reporter) UpdateLocalBrokerData(ctx context.Context) error {
	timer := metrics.NewTimer()
	usage, err := r.probe.Sample(ctx)
	timer.ObserveDuration(metrics.HostProbeDuration)
	if err != nil {
		return err
	}

	lastStats := r.serving.BundleStats(ctx)

	var rateIn, rateOut, throughputIn, throughputOut float64
	bundles := make(map[string]struct{}, len(lastStats))
	for bundle, s := range lastStats {
		rateIn += s.MsgRateIn
		rateOut += s.MsgRateOut
		throughputIn += s.MsgThroughputIn
		throughputOut += s.MsgThroughputOut
		bundles[bundle] = struct{}{}
	}

	gains, losses := diffBundleSets(r.lastData.Bundles, bundles)

	r.current = types.LocalBrokerData{
		WebServiceURL: r.webServiceURL,
		PulsarServiceURL: r.pulsarServiceURL,
		AdvertisedAddress: r.advertised,
		Version: r.version,
		Usage: usage,
		MsgRateIn: rateIn,
		MsgRateOut: rateOut,
		MsgThroughputIn: throughputIn,
		MsgThroughputOut: throughputOut,
		NumBundles: len(bundles),
		LastStats: lastStats,
		Bundles: bundles,
		LastBundleGains: gains,
		LastBundleLosses: losses,
		LastUpdate: time.Now(),
	}
	return nil
}

// Snapshot returns the most recently sampled LocalBrokerData, regardless of
// whether it has been published yet. Used to seed this broker's znode with
// real data at startup instead of an empty placeholder.
func (r *Reporter) Snapshot() types.LocalBrokerData {
	return r.current
}

// WriteBrokerDataIfNeeded calls UpdateLocalBrokerData, evaluates the publish
// predicate against the last published snapshot, and if it fires, writes
// LocalBrokerData to /loadbalance/brokers/<advertised>, clears the delta
// sets, and snapshots current into lastData.
func (r *Reporter) WriteBrokerDataIfNeeded(ctx context.Context) error {
	if err := r.UpdateLocalBrokerData(ctx); err != nil {
		return err
	}

	field, fire := r.shouldPublish()
	if !fire {
		return nil
	}
	metrics.PublishTriggersTotal.WithLabelValues(field).Inc()

	r.current.LastBundleGains = nil
	r.current.LastBundleLosses = nil

	if err := coordstore.SetJSON(ctx, r.store, coordstore.BrokerDataPath(r.advertised), r.current); err != nil {
		r.logger.Warn().Err(err).Msg("failed to publish broker data")
		return err
	}

	r.lastPublish = time.Now()
	r.lastData = r.current
	return nil
}

// shouldPublish implements the publish predicate exactly:
// wall-clock elapsed since last publish, or the largest of four deltas
// against the last published snapshot. maxResourceUsage uses an absolute
// percentage-point difference; the other three use percentChange.
func (r *Reporter) shouldPublish() (triggeringField string, fire bool) {
	if r.lastPublish.IsZero() {
		return "initial", true
	}
	if time.Since(r.lastPublish) >= r.maxInterval {
		return "interval", true
	}

	maxUsageDelta := math.Abs(r.lastData.Usage.Max() - r.current.Usage.Max())

	rateChange := percentChange(
		r.lastData.MsgRateIn+r.lastData.MsgRateOut,
		r.current.MsgRateIn+r.current.MsgRateOut,
	)
	throughputChange := percentChange(
		r.lastData.MsgThroughputIn+r.lastData.MsgThroughputOut,
		r.current.MsgThroughputIn+r.current.MsgThroughputOut,
	)
	bundleCountChange := percentChange(float64(r.lastData.NumBundles), float64(r.current.NumBundles))

	switch {
	case maxUsageDelta > r.thresholdPercentage && maxUsageDelta >= rateChange && maxUsageDelta >= throughputChange && maxUsageDelta >= bundleCountChange:
		return "maxResourceUsage", true
	case rateChange > r.thresholdPercentage && rateChange >= throughputChange && rateChange >= bundleCountChange:
		return "msgRate", true
	case throughputChange > r.thresholdPercentage && throughputChange >= bundleCountChange:
		return "msgThroughput", true
	case bundleCountChange > r.thresholdPercentage:
		return "numBundles", true
	}
	return "", false
}

// percentChange computes 100*|old-new|/old,: 0 when both
// are zero, +Inf when old is zero and new is not.
func percentChange(old, updated float64) float64 {
	if old == 0 {
		if updated == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return 100 * math.Abs(old-updated) / old
}

func diffBundleSets(prev, next map[string]struct{}) (gains, losses []string) {
	for bundle := range next {
		if _, ok := prev[bundle]; !ok {
			gains = append(gains, bundle)
		}
	}
	for bundle := range prev {
		if _, ok := next[bundle]; !ok {
			losses = append(losses, bundle)
		}
	}
	return gains, losses
}
