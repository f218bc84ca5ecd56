// Package health reports the local host's resource pressure. The gateway
// exposes it through its health command handler; nothing sheds load or
// stops accepting streams based on it. Collection runs on a
// fixed interval rather than per-request, since gopsutil's syscalls are
// too expensive to run on the data path.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats holds the most recently collected system metrics.
type HostStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
	CollectedAt      time.Time
}

// Thresholds bounds the resource levels considered healthy. Exceeding any
// one of them flips Healthy() to false.
type Thresholds struct {
	MaxCPUPercent    float64
	MaxMemoryPercent float64
	MaxDiskPercent   float64
}

// DefaultThresholds returns conservative limits suitable for a
// single-board gateway host also running a LoRa radio driver.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxCPUPercent: 90, MaxMemoryPercent: 90, MaxDiskPercent: 95}
}

// Monitor collects host resource metrics periodically in the background.
type Monitor struct {
	logger     *slog.Logger
	thresholds Thresholds
	interval   time.Duration
	diskPath   string

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats HostStats
}

// NewMonitor creates a Monitor collecting every interval, evaluating
// thresholds against the filesystem mounted at diskPath.
func NewMonitor(logger *slog.Logger, interval time.Duration, diskPath string, thresholds Thresholds) *Monitor {
	if diskPath == "" {
		diskPath = "/"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		logger:     logger.With("component", "health_monitor"),
		thresholds: thresholds,
		interval:   interval,
		diskPath:   diskPath,
		close:      make(chan struct{}),
	}
}

// Start begins periodic metric collection in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected metrics.
func (m *Monitor) Stats() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Healthy reports whether every collected metric is within its
// configured threshold.
func (m *Monitor) Healthy() bool {
	s := m.Stats()
	return s.CPUPercent <= m.thresholds.MaxCPUPercent &&
		s.MemoryPercent <= m.thresholds.MaxMemoryPercent &&
		s.DiskUsagePercent <= m.thresholds.MaxDiskPercent
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()

	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	stats := HostStats{CollectedAt: time.Now()}

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		stats.CPUPercent = percentage[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage(m.diskPath); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	if stats.CPUPercent > m.thresholds.MaxCPUPercent || stats.MemoryPercent > m.thresholds.MaxMemoryPercent || stats.DiskUsagePercent > m.thresholds.MaxDiskPercent {
		m.logger.Warn("host resource pressure exceeds threshold",
			"cpu_percent", stats.CPUPercent,
			"memory_percent", stats.MemoryPercent,
			"disk_percent", stats.DiskUsagePercent,
		)
	}
}
