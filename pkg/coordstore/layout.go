package coordstore

import (
	"context"
	"strconv"

	"github.com/cuemby/fleetlb/pkg/types"
)

// Coordination-store paths, exact
const (
	BrokersPath = "/loadbalance/brokers"
)

// BrokerDataPath is /loadbalance/brokers/<advertised>, an ephemeral node
// holding that broker's LocalBrokerData.
func BrokerDataPath(advertised string) string {
	return BrokersPath + "/" + advertised
}

// BundleDataPath is /loadbalance/bundle-data/<bundle>, a persistent node
// holding that bundle's aggregated BundleData.
func BundleDataPath(bundle string) string {
	return "/loadbalance/bundle-data/" + bundle
}

// BrokerTimeAveragePath is /loadbalance/broker-time-average/<advertised>.
func BrokerTimeAveragePath(advertised string) string {
	return "/loadbalance/broker-time-average/" + advertised
}

// ResourceQuotaPath is /loadbalance/resource-quota/namespace/<bundle>, the
// legacy quota record.
func ResourceQuotaPath(bundle string) string {
	return "/loadbalance/resource-quota/namespace/" + bundle
}

// AdvertisedName joins host and webServicePort into "<host>:<port>" (spec
// §6).
func AdvertisedName(host string, webServicePort int) string {
	return host + ":" + strconv.Itoa(webServicePort)
}

// GetLocalBrokerData, GetBundleData, and GetResourceQuota satisfy
// pkg/aggregator.Source: the aggregator never needs to know it is talking
// to an Adapter rather than a hand-rolled test double.

func (a *Adapter) GetLocalBrokerData(ctx context.Context, broker string) (*types.LocalBrokerData, bool, error) {
	data, found, err := GetJSON[types.LocalBrokerData](ctx, a, BrokerDataPath(broker))
	if err != nil || !found {
		return nil, found, err
	}
	return &data, true, nil
}

func (a *Adapter) GetBundleData(ctx context.Context, bundle string) (types.BundleData, bool, error) {
	return GetJSON[types.BundleData](ctx, a, BundleDataPath(bundle))
}

func (a *Adapter) GetResourceQuota(ctx context.Context, bundle string) (types.ResourceQuota, bool, error) {
	return GetJSON[types.ResourceQuota](ctx, a, ResourceQuotaPath(bundle))
}
