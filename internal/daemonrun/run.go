// Package daemonrun assembles the serve process: logger, store, engine,
// optional Redis intake and the daemon lifecycle.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"recflow/internal/config"
	"recflow/internal/daemon"
	"recflow/internal/intake"
	"recflow/internal/logging"
	"recflow/internal/store"
	"recflow/internal/workflow"
)

// Options configures serve process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
	// Ready, when set, receives the daemon once it has started.
	Ready func(*daemon.Daemon)
}

// Run starts the serve loop and blocks until SIGINT, SIGTERM or cmdCtx cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runCfg := *cfg
	if opts.LogLevel != "" {
		runCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&runCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "recflow.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open recording store", logging.Error(err))
		return err
	}
	defer st.Close()

	engine, err := workflow.NewEngine(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	var client intake.ListClient
	if cfg.Redis.Enabled {
		redisClient, err := intake.NewRedisClient(signalCtx, cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		client = redisClient
	}
	logStartup(logger, cfg)

	d, err := daemon.New(cfg, engine, client, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()
	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("recflow daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartup(logger *slog.Logger, cfg *config.Config) {
	logger.Info("serve configuration",
		logging.String(logging.FieldEventType, "serve_configuration"),
		logging.String("db_path", cfg.DatabasePath()),
		logging.Bool("redis_enabled", cfg.Redis.Enabled),
		logging.String("redis_addr", cfg.Redis.Addr),
		logging.String("report_key", cfg.Redis.ReportKey),
		logging.String("stale_scan_schedule", cfg.Workflow.StaleScanSchedule),
		logging.Duration("heartbeat_timeout", cfg.HeartbeatTimeout()),
	)
}
