package watchdog_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"recflow/internal/recording"
	"recflow/internal/testsupport"
	"recflow/internal/watchdog"
	"recflow/internal/workflow"
)

type fakeSource struct {
	entries []recording.StaleEntry
	err     error
	calls   atomic.Int32
	seen    time.Duration
}

func (f *fakeSource) StaleWork(_ context.Context, olderThan time.Duration) ([]recording.StaleEntry, error) {
	f.calls.Add(1)
	f.seen = olderThan
	return f.entries, f.err
}

func TestScanOnceWarnsPerEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.HeartbeatTimeout = 60
	since := time.Now().UTC().Add(-2 * time.Hour)
	source := &fakeSource{entries: []recording.StaleEntry{
		{RecordingID: "a", Kind: recording.StaleStage, Name: "transcribe", Since: since},
		{RecordingID: "b", Kind: recording.StaleUpload, Name: "youtube", Since: since},
	}}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	entries, err := watchdog.New(cfg, source, logger).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if source.seen != time.Minute {
		t.Fatalf("threshold = %v, want 1m", source.seen)
	}
	if got := strings.Count(buf.String(), `"alert":"stuck_in_progress"`); got != 2 {
		t.Fatalf("warnings = %d, want 2\n%s", got, buf.String())
	}
}

func TestScanOncePropagatesErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	boom := errors.New("db gone")
	_, err := watchdog.New(cfg, &fakeSource{err: boom}, nil).ScanOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StaleScanSchedule = "whenever"
	if err := watchdog.New(cfg, &fakeSource{}, nil).Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestRunScansOnSchedule(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StaleScanSchedule = "@every 1s"
	source := &fakeSource{}
	dog := watchdog.New(cfg, source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dog.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for source.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if source.calls.Load() == 0 {
		t.Fatal("scheduled scan never ran")
	}
}

func TestScanAgainstStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.HeartbeatTimeout = 60
	st := testsupport.MustOpenStore(t, cfg)
	rec := recording.New("late", "late", true)
	if _, err := recording.StartDownload(rec); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	rec.StatusChangedAt = time.Now().UTC().Add(-time.Hour)
	testsupport.SaveRecording(t, st, rec)

	engine, err := workflow.NewEngine(cfg, st, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	entries, err := watchdog.New(cfg, engine, nil).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != recording.StaleDownload {
		t.Fatalf("entries = %+v", entries)
	}
}
