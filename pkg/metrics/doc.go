/*
Package metrics defines and registers fleetlb's Prometheus metrics and health
endpoints.

Metrics fall into five groups: fleet state (broker and bundle counts read
from the aggregator's LoadView), leadership (the Raft-backed leadership gate
in pkg/cluster), placement (selection latency and outcome counts), shedding
(cycle counts and bundles unloaded), and the reporter's publish-predicate
trigger counts. All metrics are registered at package init and exposed by
Handler() for scraping.

Collector ticks every 15 seconds, reading the aggregator's LoadView under its
placement mutex and the leadership gate's current state, independent of
whichever component calls into it.

Health and readiness are tracked separately from Prometheus metrics via
RegisterComponent/GetHealth: each long-running subsystem (coordstore,
aggregator, leadership) reports its own health, and ReadyHandler refuses
traffic until all of them are registered and healthy.
*/
package metrics
