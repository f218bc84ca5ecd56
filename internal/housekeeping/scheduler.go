// Package housekeeping runs periodic maintenance sweeps (the gateway
// registers reassembly session eviction and a dedup cache size report) on
// cron schedules independent of the data path.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepResult records the outcome of the most recent run of one sweep.
type SweepResult struct {
	Status          string // "completed", "failed", "skipped"
	DurationSeconds float64
	ItemsProcessed  int
	Timestamp       time.Time
}

// SweepFunc performs one maintenance pass and reports how many items it
// touched (evicted sessions, trimmed cache entries, etc).
type SweepFunc func(ctx context.Context) (itemsProcessed int, err error)

// Sweep is a single named, cron-scheduled maintenance task with an
// execution guard preventing overlapping runs if one pass runs long.
type Sweep struct {
	Name     string
	Schedule string
	Run      SweepFunc

	mu         sync.Mutex
	running    bool
	LastResult *SweepResult
}

// Scheduler drives N independent cron jobs, one per registered Sweep.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	sweeps []*Sweep
}

// NewScheduler creates a Scheduler with one cron job per sweep. An
// invalid cron expression on any sweep fails construction entirely.
func NewScheduler(logger *slog.Logger, sweeps []*Sweep) (*Scheduler, error) {
	s := &Scheduler{logger: logger}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	for _, sweep := range sweeps {
		s.sweeps = append(s.sweeps, sweep)

		sweepRef := sweep
		if _, err := c.AddFunc(sweep.Schedule, func() {
			s.executeSweep(sweepRef)
		}); err != nil {
			return nil, fmt.Errorf("housekeeping: adding cron job for sweep %q: %w", sweep.Name, err)
		}

		logger.Info("registered housekeeping sweep", "sweep", sweep.Name, "schedule", sweep.Schedule)
	}

	s.cron = c
	return s, nil
}

// Start begins running scheduled sweeps.
func (s *Scheduler) Start() {
	s.logger.Info("housekeeping scheduler started", "sweeps", len(s.sweeps))
	s.cron.Start()
}

// Stop halts the scheduler, waiting up to ctx's deadline for any
// in-flight sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("housekeeping scheduler stopping")
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("housekeeping scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("housekeeping scheduler stop timed out")
	}
}

// Sweeps returns the registered sweeps, for diagnostics/health reporting.
func (s *Scheduler) Sweeps() []*Sweep {
	return s.sweeps
}

func (s *Scheduler) executeSweep(sweep *Sweep) {
	sweepLogger := s.logger.With("sweep", sweep.Name)

	sweep.mu.Lock()
	if sweep.running {
		sweep.mu.Unlock()
		sweepLogger.Warn("sweep already running, skipping scheduled execution")
		sweep.LastResult = &SweepResult{Status: "skipped", Timestamp: time.Now()}
		return
	}
	sweep.running = true
	sweep.mu.Unlock()

	defer func() {
		sweep.mu.Lock()
		sweep.running = false
		sweep.mu.Unlock()
	}()

	start := time.Now()
	items, err := sweep.Run(context.Background())
	duration := time.Since(start)

	if err != nil {
		sweepLogger.Error("sweep failed", "error", err, "duration", duration)
		sweep.LastResult = &SweepResult{Status: "failed", DurationSeconds: duration.Seconds(), Timestamp: time.Now()}
		return
	}

	sweepLogger.Debug("sweep completed", "duration", duration, "items", items)
	sweep.LastResult = &SweepResult{
		Status:          "completed",
		DurationSeconds: duration.Seconds(),
		ItemsProcessed:  items,
		Timestamp:       time.Now(),
	}
}
