// Package watchdog periodically reports work that has been in flight longer
// than the heartbeat timeout. It only logs; it never changes state.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"recflow/internal/config"
	"recflow/internal/logging"
	"recflow/internal/recording"
)

// StaleSource lists work stuck in progress. *workflow.Engine satisfies it.
type StaleSource interface {
	StaleWork(ctx context.Context, olderThan time.Duration) ([]recording.StaleEntry, error)
}

// Watchdog scans for stuck work on a cron schedule.
type Watchdog struct {
	source    StaleSource
	logger    *slog.Logger
	schedule  string
	threshold time.Duration

	mu        sync.Mutex
	scheduler *cron.Cron
}

// New builds a watchdog from the [workflow] config section.
func New(cfg *config.Config, source StaleSource, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watchdog{
		source:    source,
		logger:    logging.NewComponentLogger(logger, "watchdog"),
		schedule:  cfg.Workflow.StaleScanSchedule,
		threshold: cfg.HeartbeatTimeout(),
	}
}

// ScanOnce logs one warning per stuck entry and returns the entries.
func (w *Watchdog) ScanOnce(ctx context.Context) ([]recording.StaleEntry, error) {
	if w.threshold <= 0 {
		return nil, nil
	}
	entries, err := w.source.StaleWork(ctx, w.threshold)
	if err != nil {
		return nil, fmt.Errorf("scan stale work: %w", err)
	}
	now := time.Now().UTC()
	for _, entry := range entries {
		logging.WarnWithContext(w.logger, "work stuck in progress", "stuck_in_progress",
			logging.Alert("stuck_in_progress"),
			logging.String(logging.FieldRecordingID, entry.RecordingID),
			logging.String("kind", string(entry.Kind)),
			logging.String("name", entry.Name),
			logging.Time("since", entry.Since),
			logging.Duration("age", entry.Age(now).Round(time.Second)),
			logging.String(logging.FieldImpact, "no completion report received; the recording will not advance"),
			logging.String(logging.FieldErrorHint, "check the worker, then report a failure or retry"),
		)
	}
	if len(entries) == 0 {
		w.logger.Debug("stale scan clean")
	}
	return entries, nil
}

// Start schedules periodic scans. Scans that overrun their slot are skipped.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return errors.New("watchdog already started")
	}
	adapter := cronLogger{logger: w.logger}
	scheduler := cron.New(
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	if _, err := scheduler.AddFunc(w.schedule, func() {
		if _, err := w.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("stale scan failed", logging.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid stale scan schedule %q: %w", w.schedule, err)
	}
	scheduler.Start()
	w.scheduler = scheduler
	w.logger.Info("watchdog started",
		logging.String("schedule", w.schedule),
		logging.Duration("threshold", w.threshold),
	)
	return nil
}

// Stop halts scheduling and waits for a running scan to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	scheduler := w.scheduler
	w.scheduler = nil
	w.mu.Unlock()
	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
