package recording_test

import (
	"slices"
	"testing"

	"recflow/internal/recording"
)

func TestDownloadFailureRollback(t *testing.T) {
	cases := []struct {
		name   string
		mapped bool
		want   recording.Status
	}{
		{"mapped", true, recording.StatusInitialized},
		{"unmapped", false, recording.StatusSkipped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := recording.New("rec-1", "Lecture", tc.mapped)
			if _, err := recording.StartDownload(rec); err != nil {
				t.Fatalf("StartDownload: %v", err)
			}
			out := recording.ApplyDownloadFailure(rec, "404 from source")
			if out.Status != tc.want || rec.Status != tc.want {
				t.Fatalf("status = %s, want %s", rec.Status, tc.want)
			}
			detail, ok := rec.Failure()
			if !ok || detail.Stage != recording.OperationDownload || detail.Reason != "404 from source" {
				t.Fatalf("unexpected failure detail %+v (%v)", detail, ok)
			}
		})
	}
}

func TestTrimFailureAlwaysBlocks(t *testing.T) {
	for _, allow := range []bool{false, true} {
		graph := recording.DefaultGraph()
		rec := downloaded(t, graph)
		if _, err := recording.StartStage(rec, graph, recording.StageTrim); err != nil {
			t.Fatalf("StartStage: %v", err)
		}
		out := recording.ApplyStageFailure(rec, graph, recording.StageTrim, "ffmpeg exit 1", allow)
		if rec.Status != recording.StatusDownloaded {
			t.Fatalf("allow=%v: status = %s, want downloaded", allow, rec.Status)
		}
		if got := stageStatus(t, rec, recording.StageTrim); got != recording.StageFailed {
			t.Fatalf("allow=%v: trim = %s, want failed", allow, got)
		}
		if len(out.Skipped) != 0 {
			t.Fatalf("allow=%v: trim failure must not cascade, skipped %v", allow, out.Skipped)
		}
		if !rec.Failed || rec.FailedAtStage != string(recording.StageTrim) {
			t.Fatalf("allow=%v: failure flags not recorded: %+v", allow, rec)
		}
	}
}

func TestStageFailureBlocking(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	complete(t, rec, graph, recording.StageTrim)
	if _, err := recording.StartStage(rec, graph, recording.StageTranscribe); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	recording.ApplyStageFailure(rec, graph, recording.StageTranscribe, "model crashed", false)

	if rec.Status != recording.StatusDownloaded {
		t.Fatalf("status = %s, want downloaded", rec.Status)
	}
	if got := stageStatus(t, rec, recording.StageTranscribe); got != recording.StageFailed {
		t.Fatalf("transcribe = %s, want failed", got)
	}
	for _, dep := range []recording.StageType{recording.StageExtractTopics, recording.StageGenerateSubtitles} {
		if got := stageStatus(t, rec, dep); got != recording.StagePending {
			t.Fatalf("%s = %s, want pending", dep, got)
		}
	}
}

func TestStageFailureToleratedCascades(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	complete(t, rec, graph, recording.StageTrim)
	if _, err := recording.StartStage(rec, graph, recording.StageTranscribe); err != nil {
		t.Fatalf("StartStage: %v", err)
	}

	out := recording.ApplyStageFailure(rec, graph, recording.StageTranscribe, "model crashed", true)

	if rec.Status != recording.StatusProcessed {
		t.Fatalf("status = %s, want processed", rec.Status)
	}
	if !rec.Failed || rec.FailedAtStage != string(recording.StageTranscribe) {
		t.Fatal("failed flag should be retained as an audit marker")
	}
	transcribe, _ := rec.Stage(recording.StageTranscribe)
	if transcribe.Status != recording.StageSkipped || transcribe.SkipReason() != recording.SkipReasonError {
		t.Fatalf("transcribe = %s (%q)", transcribe.Status, transcribe.SkipReason())
	}
	want := []recording.StageType{recording.StageExtractTopics, recording.StageGenerateSubtitles}
	if !slices.Equal(out.Skipped, want) {
		t.Fatalf("skipped = %v, want %v", out.Skipped, want)
	}
	for _, dep := range want {
		stage, _ := rec.Stage(dep)
		if stage.Status != recording.StageSkipped || stage.SkipReason() != recording.SkipReasonParentFailed {
			t.Fatalf("%s = %s (%q)", dep, stage.Status, stage.SkipReason())
		}
		if stage.Meta[recording.MetaParentStage] != string(recording.StageTranscribe) {
			t.Fatalf("%s parent_stage = %q", dep, stage.Meta[recording.MetaParentStage])
		}
	}
}

func TestCascadeSkipMultiHopAndKeepsCompleted(t *testing.T) {
	graph := recording.NewGraph(
		recording.Edge{Parent: "a", Dependent: "b"},
		recording.Edge{Parent: "b", Dependent: "c"},
		recording.Edge{Parent: "b", Dependent: "done"},
		recording.Edge{Parent: "c", Dependent: "a"},
	)
	rec := &recording.Recording{
		ID:     "r",
		Status: recording.StatusProcessing,
		Stages: []recording.ProcessingStage{
			{Type: "a", Status: recording.StageInProgress},
			{Type: "b", Status: recording.StagePending},
			{Type: "c", Status: recording.StagePending},
			{Type: "done", Status: recording.StageCompleted},
		},
	}
	recording.ApplyStageFailure(rec, graph, "a", "boom", true)

	c, _ := rec.Stage("c")
	if c.Status != recording.StageSkipped || c.Meta[recording.MetaParentStage] != "a" {
		t.Fatalf("c = %s parent %q, want skipped from a", c.Status, c.Meta[recording.MetaParentStage])
	}
	done, _ := rec.Stage("done")
	if done.Status != recording.StageCompleted {
		t.Fatalf("completed stage overwritten: %s", done.Status)
	}
	a, _ := rec.Stage("a")
	if a.SkipReason() != recording.SkipReasonError {
		t.Fatalf("failing stage skip_reason = %q", a.SkipReason())
	}
}

func TestStageFailureAgainstTerminalStageIsStale(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	complete(t, rec, graph, recording.StageTrim)

	out := recording.ApplyStageFailure(rec, graph, recording.StageTrim, "late report", false)
	if !out.Stale {
		t.Fatal("expected stale outcome")
	}
	if rec.Failed || stageStatus(t, rec, recording.StageTrim) != recording.StageCompleted {
		t.Fatal("stale report mutated the recording")
	}
}

func TestPartialUploadThenRetry(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := processed(t, graph)
	for _, target := range []recording.TargetType{youtube, vk} {
		if _, err := recording.StartUpload(rec, target); err != nil {
			t.Fatalf("StartUpload %s: %v", target, err)
		}
	}
	if rec.Status != recording.StatusUploading {
		t.Fatalf("status = %s, want uploading", rec.Status)
	}
	if _, err := recording.ApplyUploadSuccess(rec, youtube, map[string]string{"video_id": "abc"}); err != nil {
		t.Fatalf("ApplyUploadSuccess: %v", err)
	}
	recording.ApplyUploadFailure(rec, vk, "quota exceeded")

	if rec.Status != recording.StatusUploaded || !rec.Failed {
		t.Fatalf("status = %s failed=%v, want uploaded/true", rec.Status, rec.Failed)
	}
	if rec.FailedAtStage != recording.UploadOperation(vk) {
		t.Fatalf("failed_at_stage = %q", rec.FailedAtStage)
	}

	res := recording.RetryUpload(rec, vk)
	if !res.Retried {
		t.Fatalf("retry not applied: %s", res.Reason)
	}
	if _, err := recording.StartUpload(rec, vk); err != nil {
		t.Fatalf("StartUpload vk: %v", err)
	}
	if _, err := recording.ApplyUploadSuccess(rec, vk, map[string]string{"video_id": "xyz"}); err != nil {
		t.Fatalf("ApplyUploadSuccess vk: %v", err)
	}
	if rec.Status != recording.StatusReady || rec.Failed {
		t.Fatalf("status = %s failed=%v, want ready/false", rec.Status, rec.Failed)
	}
	yt, _ := rec.Target(youtube)
	if yt.Meta["video_id"] != "abc" {
		t.Fatalf("youtube meta changed: %v", yt.Meta)
	}
}

func TestAllUploadsFailedFallsBackToProcessed(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := processed(t, graph)
	for _, target := range []recording.TargetType{youtube, vk} {
		if _, err := recording.StartUpload(rec, target); err != nil {
			t.Fatalf("StartUpload: %v", err)
		}
		recording.ApplyUploadFailure(rec, target, "network")
	}
	if rec.Status != recording.StatusProcessed || !rec.Failed {
		t.Fatalf("status = %s failed=%v", rec.Status, rec.Failed)
	}
}

func TestOutOfOrderFailureReportsAreStale(t *testing.T) {
	none := func(recording.StageType) bool { return false }
	cases := []struct {
		name  string
		setup func(t *testing.T, graph *recording.Graph) *recording.Recording
		apply func(rec *recording.Recording, graph *recording.Graph) recording.Outcome
	}{
		{
			name:  "download failure after download success",
			setup: downloaded,
			apply: func(rec *recording.Recording, _ *recording.Graph) recording.Outcome {
				return recording.ApplyDownloadFailure(rec, "late report")
			},
		},
		{
			name: "download failure after ready",
			setup: func(t *testing.T, graph *recording.Graph) *recording.Recording {
				rec := processed(t, graph)
				if _, err := recording.StartUpload(rec, youtube); err != nil {
					t.Fatalf("StartUpload: %v", err)
				}
				if _, err := recording.ApplyUploadSuccess(rec, youtube, nil); err != nil {
					t.Fatalf("ApplyUploadSuccess: %v", err)
				}
				if rec.Status != recording.StatusReady {
					t.Fatalf("setup status = %s, want ready", rec.Status)
				}
				return rec
			},
			apply: func(rec *recording.Recording, _ *recording.Graph) recording.Outcome {
				return recording.ApplyDownloadFailure(rec, "late report")
			},
		},
		{
			name: "stage failure before download",
			setup: func(*testing.T, *recording.Graph) *recording.Recording {
				return recording.New("rec-1", "Lecture", true)
			},
			apply: func(rec *recording.Recording, graph *recording.Graph) recording.Outcome {
				return recording.ApplyStageFailure(rec, graph, recording.StageTrim, "boom", false)
			},
		},
		{
			name: "stage failure for disabled stage",
			setup: func(t *testing.T, graph *recording.Graph) *recording.Recording {
				rec := recording.New("rec-1", "Lecture", true)
				if _, err := recording.ApplyDownloadSuccess(rec, graph, none); err != nil {
					t.Fatalf("ApplyDownloadSuccess: %v", err)
				}
				return rec
			},
			apply: func(rec *recording.Recording, graph *recording.Graph) recording.Outcome {
				return recording.ApplyStageFailure(rec, graph, recording.StageTranscribe, "boom", false)
			},
		},
		{
			name: "upload failure before processed",
			setup: func(*testing.T, *recording.Graph) *recording.Recording {
				return recording.New("rec-1", "Lecture", true)
			},
			apply: func(rec *recording.Recording, _ *recording.Graph) recording.Outcome {
				return recording.ApplyUploadFailure(rec, youtube, "quota")
			},
		},
		{
			name:  "upload failure while processing",
			setup: downloaded,
			apply: func(rec *recording.Recording, _ *recording.Graph) recording.Outcome {
				return recording.ApplyUploadFailure(rec, youtube, "quota")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			graph := recording.DefaultGraph()
			rec := tc.setup(t, graph)
			status, stages, targets := rec.Status, len(rec.Stages), len(rec.Targets)

			out := tc.apply(rec, graph)

			if !out.Stale {
				t.Fatalf("expected stale outcome, got %+v", out)
			}
			if rec.Status != status || out.Status != status {
				t.Fatalf("status moved %s -> %s", status, rec.Status)
			}
			if len(rec.Stages) != stages || len(rec.Targets) != targets {
				t.Fatalf("records created: stages %d -> %d, targets %d -> %d", stages, len(rec.Stages), targets, len(rec.Targets))
			}
			if rec.Failed {
				t.Fatalf("failure flags set by stale report: %q", rec.FailedAtStage)
			}
		})
	}
}

func TestDownloadFailureBeforeMappingParksRecording(t *testing.T) {
	rec := recording.New("rec-1", "Lecture", false)
	out := recording.ApplyDownloadFailure(rec, "no source")
	if out.Stale || rec.Status != recording.StatusSkipped || !rec.Failed {
		t.Fatalf("status = %s failed=%v stale=%v", rec.Status, rec.Failed, out.Stale)
	}
}

func TestToleratedStageErrorSurvivesUploadRetry(t *testing.T) {
	graph := recording.DefaultGraph()
	rec := downloaded(t, graph)
	complete(t, rec, graph, recording.StageTrim)
	if _, err := recording.StartStage(rec, graph, recording.StageTranscribe); err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	recording.ApplyStageFailure(rec, graph, recording.StageTranscribe, "model crashed", true)
	if rec.Status != recording.StatusProcessed {
		t.Fatalf("status = %s, want processed", rec.Status)
	}

	if _, err := recording.StartUpload(rec, vk); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	recording.ApplyUploadFailure(rec, vk, "quota exceeded")
	if rec.FailedAtStage != recording.UploadOperation(vk) {
		t.Fatalf("failed_at_stage = %q", rec.FailedAtStage)
	}

	if res := recording.RetryUpload(rec, vk); !res.Retried {
		t.Fatalf("retry not applied: %s", res.Reason)
	}
	detail, ok := rec.Failure()
	if !ok || detail.Stage != string(recording.StageTranscribe) || detail.Reason != "model crashed" {
		t.Fatalf("after retry failure = %+v (%v), want transcribe marker", detail, ok)
	}

	if _, err := recording.StartUpload(rec, vk); err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	if _, err := recording.ApplyUploadSuccess(rec, vk, nil); err != nil {
		t.Fatalf("ApplyUploadSuccess: %v", err)
	}
	if rec.Status != recording.StatusReady {
		t.Fatalf("status = %s, want ready", rec.Status)
	}
	if !rec.Failed || rec.FailedAtStage != string(recording.StageTranscribe) {
		t.Fatalf("audit marker lost: failed=%v at=%q", rec.Failed, rec.FailedAtStage)
	}
	if got := stageStatus(t, rec, recording.StageTranscribe); got != recording.StageSkipped {
		t.Fatalf("transcribe = %s, want skipped", got)
	}
}
