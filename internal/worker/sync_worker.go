// Package worker runs leaderboard syncs on a schedule.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/robfig/cron/v3"
)

// Syncer runs one leaderboard sync
type Syncer interface {
	Sync(ctx context.Context) (*models.SyncSummary, error)
}

// SyncWorker triggers Sync on a cron schedule. Runs go through the
// syncer's own single-flight and lock, so overlapping ticks coalesce.
type SyncWorker struct {
	syncer   Syncer
	schedule string
	timeout  time.Duration
	logger   *logging.Logger
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex

	lastRun    time.Time
	lastErr    error
	lastResult *models.SyncSummary
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Syncer Syncer
	// Schedule is a cron spec with an optional seconds field, or a
	// descriptor such as "@every 30m"
	Schedule string
	// Timeout bounds each run (default: 2 minutes)
	Timeout time.Duration
	Logger  *logging.Logger
}

// cronParser accepts both five and six field specs plus descriptors
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if _, err := cronParser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.Schedule, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SyncWorker{
		syncer:   cfg.Syncer,
		schedule: cfg.Schedule,
		timeout:  timeout,
		logger:   logger.WithField("component", "sync_worker"),
	}, nil
}

// Start schedules syncs until Stop is called. ctx is the parent of every
// run.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("sync worker is already running")
	}

	cronLog := cronLogger{log: w.logger}
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))
	if _, err := c.AddFunc(w.schedule, func() { w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}

	c.Start()
	w.cron = c
	w.running = true
	w.logger.WithField("schedule", w.schedule).Info("Sync worker started")
	return nil
}

// Stop halts the schedule and waits for a run in progress to finish or
// for ctx to expire.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is not running")
	}
	c := w.cron
	w.running = false
	w.mu.Unlock()

	w.logger.Info("Stopping sync worker")
	select {
	case <-c.Stop().Done():
		w.logger.Info("Sync worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Sync worker stop timed out")
		return ctx.Err()
	}
}

// RunOnce performs one bounded sync and records its outcome. Failures are
// logged; the next tick tries again.
func (w *SyncWorker) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	summary, err := w.syncer.Sync(runCtx)

	w.mu.Lock()
	w.lastRun = start
	w.lastErr = err
	if err == nil {
		w.lastResult = summary
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).Warn("Scheduled sync failed")
		return
	}
	w.logger.WithFields(map[string]interface{}{
		"customers":  summary.CustomersProcessed,
		"operations": summary.OperationsProcessed,
		"duration":   time.Since(start).String(),
	}).Info("Scheduled sync completed")
}

// Status is a snapshot of the worker's last run
type Status struct {
	Running    bool
	LastRun    time.Time
	LastError  error
	LastResult *models.SyncSummary
}

// GetStatus returns the worker's state and last run
func (w *SyncWorker) GetStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Running:    w.running,
		LastRun:    w.lastRun,
		LastError:  w.lastErr,
		LastResult: w.lastResult,
	}
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
