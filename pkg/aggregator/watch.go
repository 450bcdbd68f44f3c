package aggregator

import (
	"context"

	"github.com/cuemby/fleetlb/pkg/coordstore"
	"github.com/cuemby/fleetlb/pkg/log"
)

// WatchMembership subscribes to /loadbalance/brokers children and hands
// every change to the aggregator until ctx is cancelled. It
// blocks; callers run it in its own goroutine.
func (a *Aggregator) WatchMembership(ctx context.Context, client coordstore.Client) {
	logger := log.WithComponent("aggregator")
	ch, cancel := client.ChildrenWithWatch(ctx, coordstore.BrokersPath)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case alive, ok := <-ch:
			if !ok {
				return
			}
			logger.Debug().Int("alive", len(alive)).Msg("membership changed")
			a.OnMembershipChange(ctx, alive)
		}
	}
}

// WatchBrokerData subscribes to /loadbalance/brokers/<broker> and enqueues
// an aggregation pass on every change, for every broker named in brokers
//. It blocks; callers run it in its own goroutine. The watch
// set is fixed for the lifetime of the call; the membership watcher is
// expected to restart this with an updated set on membership changes.
func (a *Aggregator) WatchBrokerData(ctx context.Context, client coordstore.Client, brokers []string) {
	for _, broker := range brokers {
		go a.watchOneBroker(ctx, client, broker)
	}
	<-ctx.Done()
}

func (a *Aggregator) watchOneBroker(ctx context.Context, client coordstore.Client, broker string) {
	logger := log.WithComponent("aggregator")
	ch, cancel := client.DataWithWatch(ctx, coordstore.BrokerDataPath(broker))
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			logger.Debug().Str("broker", broker).Msg("broker data changed")
			a.OnBrokerDataChange(ctx, broker)
		}
	}
}
