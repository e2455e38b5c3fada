package recording_test

import (
	"errors"
	"testing"

	"recflow/internal/recording"
)

func TestRetryDownload(t *testing.T) {
	rec := recording.New("rec-1", "Lecture", true)
	if _, err := recording.StartDownload(rec); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	recording.ApplyDownloadFailure(rec, "timeout")

	res := recording.RetryDownload(rec)
	if !res.Retried {
		t.Fatalf("expected retry, got %q", res.Reason)
	}
	if rec.Status != recording.StatusInitialized || rec.Failed || rec.FailedAtStage != "" || rec.FailedReason != "" {
		t.Fatalf("retry did not reset recording: %+v", rec)
	}

	again := recording.RetryDownload(rec)
	if again.Retried || again.Reason != "nothing to retry" {
		t.Fatalf("second retry should be a no-op, got %+v", again)
	}
}

func TestRetryDownloadUnmappedStaysSkipped(t *testing.T) {
	rec := recording.New("rec-1", "Lecture", false)
	if _, err := recording.StartDownload(rec); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	recording.ApplyDownloadFailure(rec, "no source")

	res := recording.RetryDownload(rec)
	if res.Retried || res.Reason != "source not mapped" {
		t.Fatalf("unexpected retry result %+v", res)
	}
	if rec.Status != recording.StatusSkipped || !rec.Failed {
		t.Fatalf("recording changed: status=%s failed=%v", rec.Status, rec.Failed)
	}

	if _, err := recording.MapSource(rec); err != nil {
		t.Fatalf("MapSource: %v", err)
	}
	if rec.Status != recording.StatusInitialized {
		t.Fatalf("status after map = %s", rec.Status)
	}
	if res := recording.RetryDownload(rec); !res.Retried {
		t.Fatalf("retry after map should succeed: %+v", res)
	}
	if rec.Failed {
		t.Fatal("failure flags should be cleared")
	}
}

func TestRetryDownloadIgnoresOtherFailures(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	recording.ApplyStageFailure(rec, graph, recording.StageTrim, "bad cut", false)
	res := recording.RetryDownload(rec)
	if res.Retried {
		t.Fatal("download retry must not clear a stage failure")
	}
	if !rec.Failed || rec.FailedAtStage != string(recording.StageTrim) {
		t.Fatalf("failure flags changed: %+v", rec)
	}
}

func TestRetryStageResetsOnlyFailedStage(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	complete(t, rec, graph, recording.StageTrim)
	recording.ApplyStageFailure(rec, graph, recording.StageTranscribe, "oom", false)

	res := recording.RetryStage(rec, recording.StageTranscribe)
	if !res.Retried {
		t.Fatalf("expected retry, got %q", res.Reason)
	}
	if got := stageStatus(t, rec, recording.StageTranscribe); got != recording.StagePending {
		t.Fatalf("transcribe = %s, want pending", got)
	}
	if rec.Failed {
		t.Fatal("failure flags should clear once the failed stage is reset")
	}
	if rec.Status != recording.StatusProcessing {
		t.Fatalf("status = %s, want processing", rec.Status)
	}

	if res := recording.RetryStage(rec, recording.StageTranscribe); res.Retried {
		t.Fatal("retrying a pending stage must be a no-op")
	}
}

func TestRetryStageKeepsFlagsWhileAnotherStageFailed(t *testing.T) {
	graph := recording.NewGraph(
		recording.Edge{Parent: "a", Dependent: "b"},
		recording.Edge{Parent: "a", Dependent: "c"},
	)
	rec := &recording.Recording{
		ID:     "r",
		Status: recording.StatusProcessing,
		Stages: []recording.ProcessingStage{
			{Type: "a", Status: recording.StageCompleted},
			{Type: "b", Status: recording.StageInProgress},
			{Type: "c", Status: recording.StageInProgress},
		},
	}
	recording.ApplyStageFailure(rec, graph, "b", "first", false)
	recording.ApplyStageFailure(rec, graph, "c", "second", false)
	recording.RetryStage(rec, "c")
	if !rec.Failed {
		t.Fatal("failure flags cleared while stage b is still failed")
	}
	if rec.Status != recording.StatusDownloaded {
		t.Fatalf("status = %s, want downloaded", rec.Status)
	}
}

func TestReenableDependentsAfterRerun(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	complete(t, rec, graph, recording.StageTrim)
	recording.ApplyStageFailure(rec, graph, recording.StageTranscribe, "oom", true)

	if _, _, err := recording.ReenableDependents(rec, graph, recording.StageTranscribe); !errors.Is(err, recording.ErrDependencyUnmet) {
		t.Fatalf("expected ErrDependencyUnmet before parent completes, got %v", err)
	}

	complete(t, rec, graph, recording.StageTranscribe)
	_, reenabled, err := recording.ReenableDependents(rec, graph, recording.StageTranscribe)
	if err != nil {
		t.Fatalf("ReenableDependents: %v", err)
	}
	if len(reenabled) != 2 {
		t.Fatalf("reenabled = %v", reenabled)
	}
	if rec.Status != recording.StatusProcessing {
		t.Fatalf("status = %s, want processing", rec.Status)
	}
	if rec.Failed {
		t.Fatal("failure marker should clear once the stage completed")
	}
}

func TestRetryUploadNoop(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := processed(t, graph)
	res := recording.RetryUpload(rec, youtube)
	if res.Retried || res.Reason != "nothing to retry" {
		t.Fatalf("unexpected result %+v", res)
	}
}
