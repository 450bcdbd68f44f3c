// Package types defines the shared data model for the fleetlb load manager:
// per-bundle rolling statistics, per-broker state, the in-memory load view,
// and the wire-level structures persisted to the coordination store.
package types

import "time"

// Window sizes for the rolling averages kept per bundle.
const (
	NShort = 10 // short-term window sample cap
	NLong = 1000 // long-term window sample cap
)

// Default seed values used the first time a bundle is observed with no
// persisted history and no legacy resource quota to hydrate from.
const (
	DefaultMsgRate = 50.0 // msg/s
	DefaultThroughput = 50000.0 // bytes/s
)

// ServiceUnit identifies the bundle a placement request is for.
type ServiceUnit struct {
	Namespace string
	BundleRange string
}

// BundleKey returns the canonical "<namespace>/<bundleRange>" bundle
// identifier used as a map key throughout the load manager.
func (s ServiceUnit) BundleKey() string {
	return s.Namespace + "/" + s.BundleRange
}

// ParseBundleKey splits a "<namespace>/<bundleRange>" key back into its
// namespace and range parts. The range is everything after the last '/'.
func ParseBundleKey(bundle string) (namespace, bundleRange string) {
	for i := len(bundle) - 1; i >= 0; i-- {
		if bundle[i] == '/' {
			return bundle[:i], bundle[i+1:]
		}
	}
	return "", bundle
}

// NamespaceBundleStats is one raw sample reported by a broker for a bundle
// it currently serves, as handed to the aggregator via LocalBrokerData.
type NamespaceBundleStats struct {
	MsgRateIn float64
	MsgRateOut float64
	MsgThroughputIn float64
	MsgThroughputOut float64
}

// Window is a running average over a bounded number of samples. Once the
// window is saturated, a new sample displaces the oldest sample's weight
// exponentially rather than recomputing an exact mean over a ring buffer.
type Window struct {
	Avg float64
	NumSamples int
}

func (w *Window) feed(sample float64, capacity int) {
	if w.NumSamples < capacity {
		w.NumSamples++
		w.Avg += (sample - w.Avg) / float64(w.NumSamples)
		return
	}
	w.Avg += (sample - w.Avg) / float64(capacity)
}

// seedSaturated hydrates a window as fully saturated at the given average,
// used when seeding from persisted state or a legacy resource quota so a
// freshly observed sample carries low weight against established history.
func (w *Window) seedSaturated(avg float64, capacity int) {
	w.Avg = avg
	w.NumSamples = capacity
}

// RateWindows bundles the short- and long-term Window for one metric.
type RateWindows struct {
	Short Window
	Long Window
}

func (r *RateWindows) feed(sample float64) {
	r.Short.feed(sample, NShort)
	r.Long.feed(sample, NLong)
}

func (r *RateWindows) seedSaturated(avg float64) {
	r.Short.seedSaturated(avg, NShort)
	r.Long.seedSaturated(avg, NLong)
}

// BundleStats holds rolling short- and long-term statistics for one bundle,
// one RateWindows pair per tracked metric.
type BundleStats struct {
	MsgRateIn RateWindows
	MsgRateOut RateWindows
	MsgThroughputIn RateWindows
	MsgThroughputOut RateWindows
}

// NewBundleStats creates an empty, never-fed BundleStats for a newly
// observed bundle with no persisted history.
func NewBundleStats() *BundleStats {
	return &BundleStats{}
}

// DefaultBundleStats seeds a BundleStats with the package default rate and
// throughput values for a bundle with neither persisted state nor a legacy
// quota.
func DefaultBundleStats() *BundleStats {
	return &BundleStats{
		MsgRateIn: RateWindows{Short: Window{Avg: DefaultMsgRate}, Long: Window{Avg: DefaultMsgRate}},
		MsgRateOut: RateWindows{Short: Window{Avg: DefaultMsgRate}, Long: Window{Avg: DefaultMsgRate}},
		MsgThroughputIn: RateWindows{Short: Window{Avg: DefaultThroughput}, Long: Window{Avg: DefaultThroughput}},
		MsgThroughputOut: RateWindows{Short: Window{Avg: DefaultThroughput}, Long: Window{Avg: DefaultThroughput}},
	}
}

// SeedFromQuota seeds both windows from a legacy ResourceQuota, marking them
// saturated: a new sample against this history should carry low weight.
func (b *BundleStats) SeedFromQuota(q ResourceQuota) {
	b.MsgRateIn.seedSaturated(q.MsgRateIn)
	b.MsgRateOut.seedSaturated(q.MsgRateOut)
	b.MsgThroughputIn.seedSaturated(q.BandwidthIn)
	b.MsgThroughputOut.seedSaturated(q.BandwidthOut)
}

// Update advances every window with a new sample.
func (b *BundleStats) Update(sample NamespaceBundleStats) {
	b.MsgRateIn.feed(sample.MsgRateIn)
	b.MsgRateOut.feed(sample.MsgRateOut)
	b.MsgThroughputIn.feed(sample.MsgThroughputIn)
	b.MsgThroughputOut.feed(sample.MsgThroughputOut)
}

// ShortSampleCount and LongSampleCount report the saturation of this
// bundle's windows; by invariant every metric's window advances in lockstep
// so any one of them is representative.
func (b *BundleStats) ShortSampleCount() int { return b.MsgRateIn.Short.NumSamples }
func (b *BundleStats) LongSampleCount() int { return b.MsgRateIn.Long.NumSamples }

// ShortRateSum and ShortThroughputSum (and their Long equivalents) return
// in+out for the given window, the per-bundle contribution summed by
// BrokerState.TimeAverageData.
func (b *BundleStats) ShortRateSum() float64 {
	return b.MsgRateIn.Short.Avg + b.MsgRateOut.Short.Avg
}

func (b *BundleStats) ShortThroughputSum() float64 {
	return b.MsgThroughputIn.Short.Avg + b.MsgThroughputOut.Short.Avg
}

func (b *BundleStats) LongRateSum() float64 {
	return b.MsgRateIn.Long.Avg + b.MsgRateOut.Long.Avg
}

func (b *BundleStats) LongThroughputSum() float64 {
	return b.MsgThroughputIn.Long.Avg + b.MsgThroughputOut.Long.Avg
}

// ResourceQuota is the legacy per-bundle quota record, seeded into a newly
// hydrated BundleStats when no bundle-data entry exists yet.
type ResourceQuota struct {
	MsgRateIn float64
	MsgRateOut float64
	BandwidthIn float64
	BandwidthOut float64
}

// BundleData is the persisted form of BundleStats written to
// /loadbalance/bundle-data/<bundle>.
type BundleData struct {
	ShortTermMsgRateIn float64
	ShortTermMsgRateOut float64
	ShortTermMsgThroughputIn float64
	ShortTermMsgThroughputOut float64
	LongTermMsgRateIn float64
	LongTermMsgRateOut float64
	LongTermMsgThroughputIn float64
	LongTermMsgThroughputOut float64
}

// ToBundleData snapshots a BundleStats into its persisted representation.
func (b *BundleStats) ToBundleData() BundleData {
	return BundleData{
		ShortTermMsgRateIn: b.MsgRateIn.Short.Avg,
		ShortTermMsgRateOut: b.MsgRateOut.Short.Avg,
		ShortTermMsgThroughputIn: b.MsgThroughputIn.Short.Avg,
		ShortTermMsgThroughputOut: b.MsgThroughputOut.Short.Avg,
		LongTermMsgRateIn: b.MsgRateIn.Long.Avg,
		LongTermMsgRateOut: b.MsgRateOut.Long.Avg,
		LongTermMsgThroughputIn: b.MsgThroughputIn.Long.Avg,
		LongTermMsgThroughputOut: b.MsgThroughputOut.Long.Avg,
	}
}

// FromBundleData hydrates a BundleStats from its persisted representation,
// marking both windows saturated since this reflects established history.
func FromBundleData(d BundleData) *BundleStats {
	b := &BundleStats{}
	b.MsgRateIn.Short.seedSaturated(d.ShortTermMsgRateIn, NShort)
	b.MsgRateOut.Short.seedSaturated(d.ShortTermMsgRateOut, NShort)
	b.MsgThroughputIn.Short.seedSaturated(d.ShortTermMsgThroughputIn, NShort)
	b.MsgThroughputOut.Short.seedSaturated(d.ShortTermMsgThroughputOut, NShort)
	b.MsgRateIn.Long.seedSaturated(d.LongTermMsgRateIn, NLong)
	b.MsgRateOut.Long.seedSaturated(d.LongTermMsgRateOut, NLong)
	b.MsgThroughputIn.Long.seedSaturated(d.LongTermMsgThroughputIn, NLong)
	b.MsgThroughputOut.Long.seedSaturated(d.LongTermMsgThroughputOut, NLong)
	return b
}

// SystemResourceUsage is the host probe's sample of local machine load.
type SystemResourceUsage struct {
	CPUPercentage float64
	MemoryPercentage float64
	DirectMemoryPercentage float64
	BandwidthInPercentage float64
	BandwidthOutPercentage float64
}

// Max returns the largest of the tracked resource percentages: the
// "maxResourceUsage" figure used by the publish predicate, the overload
// guard, and the least-loaded placement strategy.
func (s SystemResourceUsage) Max() float64 {
	m := s.CPUPercentage
	if s.MemoryPercentage > m {
		m = s.MemoryPercentage
	}
	if s.DirectMemoryPercentage > m {
		m = s.DirectMemoryPercentage
	}
	if s.BandwidthInPercentage > m {
		m = s.BandwidthInPercentage
	}
	if s.BandwidthOutPercentage > m {
		m = s.BandwidthOutPercentage
	}
	return m
}

// LocalBrokerData is one broker's self-reported snapshot, published to
// /loadbalance/brokers/<advertised> and mirrored into BrokerState.
type LocalBrokerData struct {
	WebServiceURL string
	PulsarServiceURL string
	AdvertisedAddress string
	Version string

	Usage SystemResourceUsage

	MsgRateIn float64
	MsgRateOut float64
	MsgThroughputIn float64
	MsgThroughputOut float64
	NumBundles int

	// LastStats is keyed by bundle; it is this broker's claim of ownership
	// over every bundle in it.
	LastStats map[string]NamespaceBundleStats
	Bundles map[string]struct{}

	LastBundleGains []string
	LastBundleLosses []string

	LastUpdate time.Time
}

// Clone returns a deep-enough copy for safe snapshotting across goroutines.
func (d *LocalBrokerData) Clone() *LocalBrokerData {
	if d == nil {
		return nil
	}
	c := *d
	c.LastStats = make(map[string]NamespaceBundleStats, len(d.LastStats))
	for k, v := range d.LastStats {
		c.LastStats[k] = v
	}
	c.Bundles = make(map[string]struct{}, len(d.Bundles))
	for k := range d.Bundles {
		c.Bundles[k] = struct{}{}
	}
	c.LastBundleGains = append([]string(nil), d.LastBundleGains...)
	c.LastBundleLosses = append([]string(nil), d.LastBundleLosses...)
	return &c
}

// TimeAverageBrokerData is the derived, per-broker aggregate published to
// /loadbalance/broker-time-average/<advertised>.
type TimeAverageBrokerData struct {
	ShortTermMsgRateIn float64
	ShortTermMsgRateOut float64
	ShortTermMsgThroughputIn float64
	ShortTermMsgThroughputOut float64
	LongTermMsgRateIn float64
	LongTermMsgRateOut float64
	LongTermMsgThroughputIn float64
	LongTermMsgThroughputOut float64
	NumBundles int
}

// BrokerState is the aggregator's in-memory entry for one live broker.
type BrokerState struct {
	LocalData *LocalBrokerData
	PreallocatedBundleData map[string]BundleData
	TimeAverageData TimeAverageBrokerData
}

// NewBrokerState returns an empty BrokerState ready to receive its first
// LocalBrokerData update.
func NewBrokerState() *BrokerState {
	return &BrokerState{
		PreallocatedBundleData: make(map[string]BundleData),
	}
}
