// Package hostprobe samples local machine resource usage for the local
// reporter. The host probe itself is an external collaborator;
// this package defines the boundary interface plus a gopsutil-backed
// default so fleetlb-node has something real to run.
package hostprobe

import (
	"context"

	"github.com/cuemby/fleetlb/pkg/types"
)

// Probe samples the local machine's current resource usage.
type Probe interface {
	Sample(ctx context.Context) (types.SystemResourceUsage, error)
}

// Limits supplies the capacities used to turn raw gopsutil samples into
// the percentages the publish predicate and overload guard expect, for
// resources whose total capacity this process should not assume is the
// whole machine. The resulting percentages are not clamped to 100.
type Limits struct {
	// BandwidthInCapacityBps and BandwidthOutCapacityBps are this broker's
	// configured network capacity; gopsutil only reports cumulative byte
	// counters, not a percentage, so the probe divides the observed byte
	// rate by these.
	BandwidthInCapacityBps float64
	BandwidthOutCapacityBps float64
}

// DefaultLimits assumes a 1 Gbps link in each direction, a reasonable
// broker-host default absent explicit configuration.
func DefaultLimits() Limits {
	const gbit = 1_000_000_000.0 / 8
	return Limits{BandwidthInCapacityBps: gbit, BandwidthOutCapacityBps: gbit}
}
