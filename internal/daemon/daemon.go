package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"recflow/internal/config"
	"recflow/internal/intake"
	"recflow/internal/logging"
	"recflow/internal/recording"
	"recflow/internal/watchdog"
	"recflow/internal/workflow"
)

// Daemon runs the report intake and the watchdog and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *workflow.Engine
	watchdog *watchdog.Watchdog
	consumer *intake.Consumer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	IntakeEnabled bool
	DBPath        string
	LockFilePath  string
	Counts        map[recording.Status]int
}

// New constructs a daemon. A nil client disables the report intake; the
// watchdog always runs.
func New(cfg *config.Config, engine *workflow.Engine, client intake.ListClient, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || engine == nil {
		return nil, errors.New("daemon requires config and workflow engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		engine:   engine,
		watchdog: watchdog.New(cfg, engine, logger),
		lockPath: cfg.ServeLockPath(),
		lock:     flock.New(cfg.ServeLockPath()),
	}
	if client != nil {
		d.consumer = intake.NewConsumer(cfg, client, engine, logger)
	}
	return d, nil
}

// Start acquires the serve lock and launches background processing.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another recflow serve instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.watchdog.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start watchdog: %w", err)
	}
	if d.consumer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.consumer.Run(runCtx); err != nil {
				d.logger.Error("report intake stopped", logging.Error(err))
			}
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("recflow daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("intake_enabled", d.consumer != nil),
	)
	return nil
}

// Stop halts background processing and releases the serve lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.watchdog.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("recflow daemon stopped")
}

// Status returns the current daemon status with per-status recording counts.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		IntakeEnabled: d.consumer != nil,
		DBPath:        d.cfg.DatabasePath(),
		LockFilePath:  d.lockPath,
	}
	counts, err := d.engine.Stats(ctx)
	if err != nil {
		d.logger.Warn("status counts unavailable", logging.Error(err))
		return status
	}
	status.Counts = counts
	return status
}
