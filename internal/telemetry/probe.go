package telemetry

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is a point-in-time snapshot of host load.
type SystemInfo struct {
	CPUCount           int     `json:"cpu_count"`
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryTotalMB      uint64  `json:"memory_total_mb"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
}

// Probe reads host telemetry. Implementations must be safe for concurrent use.
type Probe interface {
	Snapshot(ctx context.Context) (SystemInfo, error)
}

// SystemProbe implements Probe against the running host.
type SystemProbe struct{}

func NewSystemProbe() *SystemProbe {
	return &SystemProbe{}
}

// Snapshot reads logical core count, instantaneous CPU usage and virtual
// memory usage. A zero interval asks for usage since the previous call,
// which avoids blocking the request path.
func (p *SystemProbe) Snapshot(ctx context.Context) (SystemInfo, error) {
	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("failed to read cpu count: %w", err)
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	var cpuUsage float64
	if len(percents) > 0 {
		cpuUsage = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("failed to read memory usage: %w", err)
	}

	return SystemInfo{
		CPUCount:           count,
		CPUUsagePercent:    cpuUsage,
		MemoryTotalMB:      vm.Total / (1024 * 1024),
		MemoryUsagePercent: vm.UsedPercent,
	}, nil
}
