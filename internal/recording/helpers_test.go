package recording_test

import (
	"testing"

	"recflow/internal/recording"
)

const (
	youtube recording.TargetType = "youtube"
	vk      recording.TargetType = "vk"
)

func allEnabled(recording.StageType) bool { return true }

// downloaded returns a mapped recording whose download succeeded with every
// default stage created.
func downloaded(t *testing.T, graph *recording.Graph) *recording.Recording {
	t.Helper()
	rec := recording.New("rec-1", "Lecture", true)
	if _, err := recording.StartDownload(rec); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if _, err := recording.ApplyDownloadSuccess(rec, graph, allEnabled); err != nil {
		t.Fatalf("ApplyDownloadSuccess: %v", err)
	}
	return rec
}

func complete(t *testing.T, rec *recording.Recording, graph *recording.Graph, stages ...recording.StageType) {
	t.Helper()
	for _, st := range stages {
		if _, err := recording.StartStage(rec, graph, st); err != nil {
			t.Fatalf("StartStage %s: %v", st, err)
		}
		if _, err := recording.ApplyStageSuccess(rec, graph, st, nil); err != nil {
			t.Fatalf("ApplyStageSuccess %s: %v", st, err)
		}
	}
}

func processed(t *testing.T, graph *recording.Graph) *recording.Recording {
	t.Helper()
	rec := downloaded(t, graph)
	complete(t, rec, graph,
		recording.StageTrim,
		recording.StageTranscribe,
		recording.StageExtractTopics,
		recording.StageGenerateSubtitles,
	)
	if rec.Status != recording.StatusProcessed {
		t.Fatalf("expected processed, got %s", rec.Status)
	}
	return rec
}

func stageStatus(t *testing.T, rec *recording.Recording, st recording.StageType) recording.StageStatus {
	t.Helper()
	stage, ok := rec.Stage(st)
	if !ok {
		t.Fatalf("stage %s missing", st)
	}
	return stage.Status
}
