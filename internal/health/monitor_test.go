package health

import (
	"log/slog"
	"testing"
	"time"
)

func TestMonitorCollectsOnStart(t *testing.T) {
	m := NewMonitor(slog.Default(), 10*time.Millisecond, "/", DefaultThresholds())
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Stats().CollectedAt.IsZero() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("monitor did not collect stats within deadline")
}

func TestMonitorHealthyWithZeroStats(t *testing.T) {
	m := NewMonitor(slog.Default(), time.Hour, "/", DefaultThresholds())
	if !m.Healthy() {
		t.Fatal("a monitor with no collected stats (all zero) should report healthy")
	}
}

func TestMonitorHealthyRunsAfterCollect(t *testing.T) {
	m := NewMonitor(slog.Default(), time.Hour, "/", Thresholds{MaxCPUPercent: 1, MaxMemoryPercent: 100, MaxDiskPercent: 100})
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Stats().CollectedAt.IsZero() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	// CPU percent is almost certainly above 1% on any busy test host, but
	// this is inherently environment-dependent; we only assert Healthy()
	// runs without panicking and returns a stable bool.
	_ = m.Healthy()
}
