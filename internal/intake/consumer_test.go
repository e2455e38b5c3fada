package intake_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"recflow/internal/intake"
	"recflow/internal/recording"
	"recflow/internal/services"
	"recflow/internal/testsupport"
	"recflow/internal/workflow"
)

type fakeLists struct {
	mu    sync.Mutex
	lists map[string][]string
}

func newFakeLists() *fakeLists {
	return &fakeLists{lists: make(map[string][]string)}
}

func (f *fakeLists) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return redis.NewStringSliceResult(nil, err)
	}
	for _, key := range keys {
		if items := f.lists[key]; len(items) > 0 {
			f.lists[key] = items[1:]
			return redis.NewStringSliceResult([]string{key, items[0]}, nil)
		}
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (f *fakeLists) RPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		switch val := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(val))
		case string:
			f.lists[key] = append(f.lists[key], val)
		}
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeLists) items(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists[key]...)
}

type flakyReporter struct {
	err   error
	calls int
}

func (f *flakyReporter) ReportDownloadOutcome(context.Context, string, workflow.Outcome) (workflow.Decision, error) {
	f.calls++
	return workflow.Decision{}, f.err
}

func (f *flakyReporter) ReportStageOutcome(context.Context, string, recording.StageType, workflow.Outcome) (workflow.Decision, error) {
	f.calls++
	return workflow.Decision{}, f.err
}

func (f *flakyReporter) ReportUploadOutcome(context.Context, string, recording.TargetType, workflow.Outcome) (workflow.Decision, error) {
	f.calls++
	return workflow.Decision{}, f.err
}

func TestConsumerAppliesReportsToEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Redis.RequeueDelay = 0
	st := testsupport.MustOpenStore(t, cfg)
	engine, err := workflow.NewEngine(cfg, st, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()
	rec, err := engine.CreateRecording(ctx, workflow.NewRecording{Title: "talk", Mapped: true})
	if err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	if _, err := engine.StartDownload(ctx, rec.ID); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	lists := newFakeLists()
	consumer := intake.NewConsumer(cfg, lists, engine, nil)
	for _, report := range []intake.Report{
		intake.NewReport(rec.ID, intake.KindDownload, "", workflow.Success(nil)),
		intake.NewReport(rec.ID, intake.KindStage, "trim", workflow.Failure("ffmpeg exited 1")),
	} {
		if err := intake.Publish(ctx, lists, cfg.Redis.ReportKey, report); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		disp, err := consumer.ProcessOne(ctx)
		if err != nil || disp != intake.DispositionApplied {
			t.Fatalf("ProcessOne #%d = %s, %v", i, disp, err)
		}
	}
	disp, err := consumer.ProcessOne(ctx)
	if err != nil || disp != intake.DispositionIdle {
		t.Fatalf("empty list = %s, %v", disp, err)
	}

	view, err := engine.GetStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if view.Status != recording.StatusDownloaded || view.FailedAtStage != "trim" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestConsumerDeadLettersPermanentFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	lists := newFakeLists()
	reporter := &flakyReporter{err: services.Wrap(services.ErrNotFound, "store", "mutate", "missing", nil)}
	consumer := intake.NewConsumer(cfg, lists, reporter, nil)
	ctx := context.Background()

	lists.RPush(ctx, cfg.Redis.ReportKey, "{not json")
	if err := intake.Publish(ctx, lists, cfg.Redis.ReportKey, intake.NewReport("ghost", intake.KindUpload, "youtube", workflow.Success(nil))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i := 0; i < 2; i++ {
		disp, err := consumer.ProcessOne(ctx)
		if err != nil || disp != intake.DispositionDeadLetter {
			t.Fatalf("ProcessOne #%d = %s, %v", i, disp, err)
		}
	}
	dead := lists.items(cfg.Redis.DeadLetterKey)
	if len(dead) != 2 {
		t.Fatalf("dead letters = %d, want 2", len(dead))
	}
	var entry intake.DeadLetter
	if err := json.Unmarshal([]byte(dead[1]), &entry); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if entry.Kind != "not_found" {
		t.Fatalf("dead letter kind = %q", entry.Kind)
	}
	if reporter.calls != 1 {
		t.Fatalf("reporter calls = %d, malformed report must not dispatch", reporter.calls)
	}
}

func TestConsumerRequeuesTransientFailuresUntilBudgetSpent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Redis.MaxAttempts = 3
	cfg.Redis.RequeueDelay = 0
	lists := newFakeLists()
	reporter := &flakyReporter{err: services.Wrap(services.ErrTimeout, "store", "lock", "busy", nil)}
	consumer := intake.NewConsumer(cfg, lists, reporter, nil)
	ctx := context.Background()

	if err := intake.Publish(ctx, lists, cfg.Redis.ReportKey, intake.NewReport("rec", intake.KindDownload, "", workflow.Failure("x"))); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := []intake.Disposition{intake.DispositionRequeued, intake.DispositionRequeued, intake.DispositionDeadLetter}
	for i, expected := range want {
		disp, err := consumer.ProcessOne(ctx)
		if err != nil || disp != expected {
			t.Fatalf("ProcessOne #%d = %s, %v; want %s", i, disp, err, expected)
		}
	}
	if reporter.calls != 3 {
		t.Fatalf("reporter calls = %d, want 3", reporter.calls)
	}
	if got := len(lists.items(cfg.Redis.ReportKey)); got != 0 {
		t.Fatalf("report list still holds %d entries", got)
	}
	if got := len(lists.items(cfg.Redis.DeadLetterKey)); got != 1 {
		t.Fatalf("dead letters = %d, want 1", got)
	}
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	consumer := intake.NewConsumer(cfg, newFakeLists(), &flakyReporter{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestReportValidate(t *testing.T) {
	cases := []struct {
		name   string
		report intake.Report
		ok     bool
	}{
		{"download", intake.Report{RecordingID: "r", Kind: intake.KindDownload, Outcome: "success"}, true},
		{"stage missing name", intake.Report{RecordingID: "r", Kind: intake.KindStage, Outcome: "failure"}, false},
		{"upload missing target", intake.Report{RecordingID: "r", Kind: intake.KindUpload, Outcome: "success"}, false},
		{"bad outcome", intake.Report{RecordingID: "r", Kind: intake.KindDownload, Outcome: "done"}, false},
		{"bad kind", intake.Report{RecordingID: "r", Kind: "encode", Outcome: "success"}, false},
		{"no recording", intake.Report{Kind: intake.KindDownload, Outcome: "success"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.report.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

// failOnceReporter rejects the first download failure with a transient error
// and forwards everything else.
type failOnceReporter struct {
	intake.Reporter
	failed bool
}

func (f *failOnceReporter) ReportDownloadOutcome(ctx context.Context, id string, outcome workflow.Outcome) (workflow.Decision, error) {
	if outcome.Result == workflow.ResultFailure && !f.failed {
		f.failed = true
		return workflow.Decision{}, services.Wrap(services.ErrTimeout, "store", "lock", "busy", nil)
	}
	return f.Reporter.ReportDownloadOutcome(ctx, id, outcome)
}

func TestConsumerRequeuedFailureBehindSuccessIsStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Redis.MaxAttempts = 3
	cfg.Redis.RequeueDelay = 0
	st := testsupport.MustOpenStore(t, cfg)
	engine, err := workflow.NewEngine(cfg, st, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()
	rec, err := engine.CreateRecording(ctx, workflow.NewRecording{Title: "talk", Mapped: true})
	if err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	if _, err := engine.StartDownload(ctx, rec.ID); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	lists := newFakeLists()
	consumer := intake.NewConsumer(cfg, lists, &failOnceReporter{Reporter: engine}, nil)
	for _, report := range []intake.Report{
		intake.NewReport(rec.ID, intake.KindDownload, "", workflow.Failure("connection reset")),
		intake.NewReport(rec.ID, intake.KindDownload, "", workflow.Success(nil)),
	} {
		if err := intake.Publish(ctx, lists, cfg.Redis.ReportKey, report); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	want := []intake.Disposition{intake.DispositionRequeued, intake.DispositionApplied, intake.DispositionApplied}
	for i, expected := range want {
		disp, err := consumer.ProcessOne(ctx)
		if err != nil || disp != expected {
			t.Fatalf("ProcessOne #%d = %s, %v; want %s", i, disp, err, expected)
		}
	}

	view, err := engine.GetStatus(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if view.Status != recording.StatusDownloaded || view.Failed {
		t.Fatalf("reordered failure rolled the recording back: %+v", view)
	}
	if got := len(lists.items(cfg.Redis.DeadLetterKey)); got != 0 {
		t.Fatalf("dead letters = %d, want 0", got)
	}
}
