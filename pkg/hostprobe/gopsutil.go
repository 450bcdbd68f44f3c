package hostprobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// GopsutilProbe samples CPU, memory, and network counters via gopsutil.
// Network throughput is derived from the delta between consecutive samples
// against the configured link capacity, since gopsutil only exposes
// cumulative byte counters.
type GopsutilProbe struct {
	limits Limits

	mu sync.Mutex
	lastSent uint64
	lastRecv uint64
	lastAt time.Time
}

// NewGopsutilProbe returns a Probe backed by github.com/shirou/gopsutil/v3.
func NewGopsutilProbe(limits Limits) *GopsutilProbe {
	return &GopsutilProbe{limits: limits}
}

func (p *GopsutilProbe) Sample(ctx context.Context) (types.SystemResourceUsage, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return types.SystemResourceUsage{}, fmt.Errorf("hostprobe: cpu sample: %w", err)
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return types.SystemResourceUsage{}, fmt.Errorf("hostprobe: mem sample: %w", err)
	}

	bandwidthIn, bandwidthOut := p.networkPercentages(ctx)

	return types.SystemResourceUsage{
		CPUPercentage: cpuPct,
		MemoryPercentage: vmem.UsedPercent,
		DirectMemoryPercentage: vmem.UsedPercent,
		BandwidthInPercentage: bandwidthIn,
		BandwidthOutPercentage: bandwidthOut,
	}, nil
}

func (p *GopsutilProbe) networkPercentages(ctx context.Context) (in, out float64) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		return 0, 0
	}
	total := counters[0]

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.lastAt.IsZero() {
		p.lastSent, p.lastRecv, p.lastAt = total.BytesSent, total.BytesRecv, now
		return 0, 0
	}

	elapsed := now.Sub(p.lastAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}

	sentRate := float64(total.BytesSent-p.lastSent) / elapsed
	recvRate := float64(total.BytesRecv-p.lastRecv) / elapsed
	p.lastSent, p.lastRecv, p.lastAt = total.BytesSent, total.BytesRecv, now

	if p.limits.BandwidthOutCapacityBps > 0 {
		out = 100 * sentRate / p.limits.BandwidthOutCapacityBps
	}
	if p.limits.BandwidthInCapacityBps > 0 {
		in = 100 * recvRate / p.limits.BandwidthInCapacityBps
	}
	return in, out
}
