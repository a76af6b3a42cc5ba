package monitor

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
)

// DiskUsage is a point-in-time view of the filesystem holding the media
// directory.
type DiskUsage struct {
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// MemoryUsage is a point-in-time view of system memory.
type MemoryUsage struct {
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	AvailableGB float64 `json:"available_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemStatus bundles all resource readings for status endpoints and
// error-journal snapshots.
type SystemStatus struct {
	CPUPercent float64     `json:"cpu_percent"`
	Memory     MemoryUsage `json:"memory"`
	Disk       DiskUsage   `json:"disk"`
	Overloaded bool        `json:"overloaded"`
	SampledAt  time.Time   `json:"sampled_at"`
}

// ResourceMonitor samples host CPU, memory, and disk utilization. All
// getters are pure queries, safe to call concurrently, and degrade to zero
// readings on sampling failure: the monitor must never be the reason a
// download fails.
type ResourceMonitor struct {
	limits vodkeeper.SystemLimitsConfig
	path   string
	log    *zap.SugaredLogger
}

// NewResourceMonitor watches the filesystem containing path against the
// given limits.
func NewResourceMonitor(limits vodkeeper.SystemLimitsConfig, path string) *ResourceMonitor {
	return &ResourceMonitor{
		limits: limits,
		path:   path,
		log:    zap.S().Named("resources"),
	}
}

const bytesPerGB = 1024 * 1024 * 1024

// DiskUsage samples the filesystem holding the media directory.
func (m *ResourceMonitor) DiskUsage() DiskUsage {
	usage, err := disk.Usage(m.path)
	if err != nil {
		m.log.Warnw("disk usage sample failed", "path", m.path, "error", err)
		return DiskUsage{}
	}
	return DiskUsage{
		TotalGB:     float64(usage.Total) / bytesPerGB,
		UsedGB:      float64(usage.Used) / bytesPerGB,
		FreeGB:      float64(usage.Free) / bytesPerGB,
		UsedPercent: usage.UsedPercent,
	}
}

// MemoryUsage samples system memory.
func (m *ResourceMonitor) MemoryUsage() MemoryUsage {
	vm, err := mem.VirtualMemory()
	if err != nil {
		m.log.Warnw("memory usage sample failed", "error", err)
		return MemoryUsage{}
	}
	return MemoryUsage{
		TotalGB:     float64(vm.Total) / bytesPerGB,
		UsedGB:      float64(vm.Used) / bytesPerGB,
		AvailableGB: float64(vm.Available) / bytesPerGB,
		UsedPercent: vm.UsedPercent,
	}
}

// CPUUsage returns instantaneous CPU utilization as a percentage.
func (m *ResourceMonitor) CPUUsage() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		m.log.Warnw("cpu usage sample failed", "error", err)
		return 0
	}
	return percents[0]
}

// IsOverloaded reports whether any single limit is breached. One threshold
// is enough; the checks are deliberately OR'd.
func (m *ResourceMonitor) IsOverloaded() bool {
	if m.CPUUsage() > m.limits.MaxCPUPercent {
		return true
	}
	if m.MemoryUsage().UsedPercent > m.limits.MaxMemoryPercent {
		return true
	}
	if m.DiskUsage().UsedPercent > m.limits.MaxDiskPercent {
		return true
	}
	return false
}

// HasDiskSpace reports whether free space is above the configured floor.
func (m *ResourceMonitor) HasDiskSpace() bool {
	return m.DiskUsage().FreeGB >= m.limits.MinFreeDiskGB
}

// Status samples everything at once.
func (m *ResourceMonitor) Status() SystemStatus {
	cpuPercent := m.CPUUsage()
	memory := m.MemoryUsage()
	diskUsage := m.DiskUsage()
	return SystemStatus{
		CPUPercent: cpuPercent,
		Memory:     memory,
		Disk:       diskUsage,
		Overloaded: cpuPercent > m.limits.MaxCPUPercent ||
			memory.UsedPercent > m.limits.MaxMemoryPercent ||
			diskUsage.UsedPercent > m.limits.MaxDiskPercent,
		SampledAt: time.Now(),
	}
}
