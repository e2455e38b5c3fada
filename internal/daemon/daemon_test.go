package daemon_test

import (
	"context"
	"testing"

	"recflow/internal/config"
	"recflow/internal/daemon"
	"recflow/internal/recording"
	"recflow/internal/testsupport"
	"recflow/internal/workflow"
)

func newEngine(t *testing.T) (*config.Config, *workflow.Engine) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	engine, err := workflow.NewEngine(cfg, st, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return cfg, engine
}

func TestDaemonStartStop(t *testing.T) {
	cfg, engine := newEngine(t)
	ctx := context.Background()
	if _, err := engine.CreateRecording(ctx, workflow.NewRecording{ID: "rec-1", Mapped: true}); err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}

	d, err := daemon.New(cfg, engine, nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.IntakeEnabled {
		t.Fatal("expected intake disabled without a redis client")
	}
	if status.Counts[recording.StatusInitialized] != 1 {
		t.Fatalf("expected one initialized recording, got %v", status.Counts)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg, engine := newEngine(t)
	first, err := daemon.New(cfg, engine, nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	second, err := daemon.New(cfg, engine, nil, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	t.Cleanup(first.Stop)
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be refused while the lock is held")
	}
}

func TestDaemonRequiresEngine(t *testing.T) {
	if _, err := daemon.New(testsupport.NewConfig(t), nil, nil, nil); err == nil {
		t.Fatal("expected error without engine")
	}
}
