package resource

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"streamgate/internal/metrics"
)

// Limits is the detected container resource envelope.
type Limits struct {
	MemoryMB int64 `json:"memoryMB"`
	CPUCount int   `json:"cpuCount"`
}

// Probe detects memory and CPU limits, preferring cgroup v2, then cgroup v1,
// then the OS view. Readings are cached; a failed tier falls through to the
// next and a fully failed probe keeps the last good value.
type Probe struct {
	cgroupRoot string
	interval   time.Duration
	logger     *slog.Logger

	mu   sync.RWMutex
	last Limits
}

func NewProbe(interval time.Duration, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p := &Probe{
		cgroupRoot: "/sys/fs/cgroup",
		interval:   interval,
		logger:     logger,
	}
	p.last = p.read()
	return p
}

// newProbeWithRoot is used by tests to point the cgroup tier at a fixture tree.
func newProbeWithRoot(root string, logger *slog.Logger) *Probe {
	p := NewProbe(time.Hour, logger)
	p.cgroupRoot = root
	p.last = p.read()
	return p
}

// Current returns the most recent successful reading.
func (p *Probe) Current() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Start re-probes on the configured interval until ctx is cancelled.
func (p *Probe) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limits := p.read()
			p.mu.Lock()
			p.last = limits
			p.mu.Unlock()
		}
	}
}

func (p *Probe) read() Limits {
	limits := Limits{}

	if memMB, ok := p.readCgroupMemory(); ok {
		limits.MemoryMB = memMB
	}
	if cpus, ok := p.readCgroupCPU(); ok {
		limits.CPUCount = cpus
	}

	if limits.MemoryMB <= 0 {
		if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
			limits.MemoryMB = int64(vm.Total / (1 << 20))
		}
	}
	if limits.CPUCount <= 0 {
		if n, err := cpu.Counts(true); err == nil && n > 0 {
			limits.CPUCount = n
		} else {
			limits.CPUCount = runtime.NumCPU()
		}
	}

	if limits.MemoryMB > 0 {
		metrics.DetectedMemoryMB.Set(float64(limits.MemoryMB))
	}
	metrics.DetectedCPUCount.Set(float64(limits.CPUCount))
	return limits
}

// readCgroupMemory tries cgroup v2 memory.max, then v1 memory.limit_in_bytes.
// "max" (v2) and the v1 no-limit sentinel both mean unconstrained; the caller
// then falls through to the OS view.
func (p *Probe) readCgroupMemory() (int64, bool) {
	if raw, err := os.ReadFile(filepath.Join(p.cgroupRoot, "memory.max")); err == nil {
		value := strings.TrimSpace(string(raw))
		if value != "max" {
			if bytes, err := strconv.ParseInt(value, 10, 64); err == nil && bytes > 0 {
				return bytes / (1 << 20), true
			}
		}
		return 0, false
	}

	if raw, err := os.ReadFile(filepath.Join(p.cgroupRoot, "memory", "memory.limit_in_bytes")); err == nil {
		value := strings.TrimSpace(string(raw))
		if bytes, err := strconv.ParseInt(value, 10, 64); err == nil && bytes > 0 {
			// v1 reports an enormous page-rounded number when unlimited.
			const noLimitThreshold = int64(1) << 60
			if bytes < noLimitThreshold {
				return bytes / (1 << 20), true
			}
		}
	}
	return 0, false
}

// readCgroupCPU tries cgroup v2 cpu.max ("quota period" or "max period"),
// then v1 cfs_quota_us/cfs_period_us. Result is clamped to >= 1.
func (p *Probe) readCgroupCPU() (int, bool) {
	if raw, err := os.ReadFile(filepath.Join(p.cgroupRoot, "cpu.max")); err == nil {
		fields := strings.Fields(strings.TrimSpace(string(raw)))
		if len(fields) == 2 && fields[0] != "max" {
			quota, qErr := strconv.ParseInt(fields[0], 10, 64)
			period, pErr := strconv.ParseInt(fields[1], 10, 64)
			if qErr == nil && pErr == nil && period > 0 && quota > 0 {
				cpus := int(quota / period)
				if cpus < 1 {
					cpus = 1
				}
				return cpus, true
			}
		}
		return 0, false
	}

	quotaRaw, qErr := os.ReadFile(filepath.Join(p.cgroupRoot, "cpu", "cpu.cfs_quota_us"))
	periodRaw, pErr := os.ReadFile(filepath.Join(p.cgroupRoot, "cpu", "cpu.cfs_period_us"))
	if qErr != nil || pErr != nil {
		return 0, false
	}
	quota, qErr := strconv.ParseInt(strings.TrimSpace(string(quotaRaw)), 10, 64)
	period, pErr := strconv.ParseInt(strings.TrimSpace(string(periodRaw)), 10, 64)
	if qErr != nil || pErr != nil || quota <= 0 || period <= 0 {
		return 0, false
	}
	cpus := int(quota / period)
	if cpus < 1 {
		cpus = 1
	}
	return cpus, true
}
