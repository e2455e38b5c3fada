package recording_test

import (
	"testing"
	"time"

	"recflow/internal/recording"
)

func TestIsReadyToUpload(t *testing.T) {
	graph := recording.DefaultGraph()
	cases := []struct {
		name   string
		mutate func(*recording.Recording)
		want   bool
	}{
		{"processed", func(*recording.Recording) {}, true},
		{"failed flag", func(r *recording.Recording) { r.Failed = true }, false},
		{"deleted", func(r *recording.Recording) { r.Deleted = true }, false},
		{"skipped stage", func(r *recording.Recording) { r.Stages[1].Status = recording.StageSkipped }, false},
		{"initialized", func(r *recording.Recording) { r.Status = recording.StatusInitialized }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := processed(t, graph)
			tc.mutate(rec)
			if got := recording.IsReadyToUpload(rec); got != tc.want {
				t.Fatalf("IsReadyToUpload = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsUploadAllowed(t *testing.T) {
	cases := []struct {
		name   string
		status recording.Status
		target *recording.TargetStatus
		want   bool
	}{
		{"downloaded no target", recording.StatusDownloaded, nil, true},
		{"initialized", recording.StatusInitialized, nil, false},
		{"downloading", recording.StatusDownloading, nil, false},
		{"skipped", recording.StatusSkipped, nil, false},
		{"pending source", recording.StatusPendingSource, nil, false},
		{"expired", recording.StatusExpired, nil, false},
		{"failed target", recording.StatusUploaded, ptr(recording.TargetFailed), true},
		{"not uploaded target", recording.StatusProcessed, ptr(recording.TargetNotUploaded), true},
		{"uploading target", recording.StatusUploading, ptr(recording.TargetUploading), false},
		{"uploaded target", recording.StatusReady, ptr(recording.TargetUploaded), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recording.Recording{ID: "r", Status: tc.status}
			if tc.target != nil {
				rec.Targets = []recording.OutputTarget{{Type: youtube, Status: *tc.target}}
			}
			if got := recording.IsUploadAllowed(rec, youtube); got != tc.want {
				t.Fatalf("IsUploadAllowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestStaleWork(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()
	rec := &recording.Recording{
		ID:              "r",
		Status:          recording.StatusDownloading,
		StatusChangedAt: old,
		Stages: []recording.ProcessingStage{
			{Type: recording.StageTrim, Status: recording.StageInProgress, StartedAt: &old},
			{Type: recording.StageTranscribe, Status: recording.StageInProgress, StartedAt: &fresh},
			{Type: recording.StageExtractTopics, Status: recording.StagePending},
		},
		Targets: []recording.OutputTarget{
			{Type: youtube, Status: recording.TargetUploading, StartedAt: &old},
		},
	}
	entries := recording.StaleWork(rec, time.Now().Add(-time.Hour))
	if len(entries) != 3 {
		t.Fatalf("expected 3 stale entries, got %+v", entries)
	}
	kinds := map[recording.StaleKind]string{}
	for _, e := range entries {
		kinds[e.Kind] = e.Name
	}
	if kinds[recording.StaleStage] != string(recording.StageTrim) || kinds[recording.StaleUpload] != string(youtube) {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if rec.Stages[0].Status != recording.StageInProgress {
		t.Fatal("stale detection must not mutate")
	}
}
