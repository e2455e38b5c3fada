package recording

import "time"

// StaleKind classifies work that never reported a completion.
type StaleKind string

const (
	StaleDownload StaleKind = "download"
	StaleStage    StaleKind = "stage"
	StaleUpload   StaleKind = "upload"
)

// StaleEntry describes one piece of work stuck in progress.
type StaleEntry struct {
	RecordingID string
	Kind        StaleKind
	Name        string
	Since       time.Time
}

// Age returns how long the work has been in progress at reference time ref.
func (e StaleEntry) Age(ref time.Time) time.Duration {
	return ref.Sub(e.Since)
}

// StaleWork lists in-progress work that started before cutoff. Detection
// only; nothing is reset.
func StaleWork(rec *Recording, cutoff time.Time) []StaleEntry {
	if rec == nil || rec.Deleted {
		return nil
	}
	var out []StaleEntry
	if rec.Status == StatusDownloading && rec.StatusChangedAt.Before(cutoff) {
		out = append(out, StaleEntry{
			RecordingID: rec.ID,
			Kind:        StaleDownload,
			Name:        OperationDownload,
			Since:       rec.StatusChangedAt,
		})
	}
	for _, stage := range rec.Stages {
		if stage.Status != StageInProgress {
			continue
		}
		since := stage.UpdatedAt
		if stage.StartedAt != nil {
			since = *stage.StartedAt
		}
		if since.Before(cutoff) {
			out = append(out, StaleEntry{RecordingID: rec.ID, Kind: StaleStage, Name: string(stage.Type), Since: since})
		}
	}
	for _, target := range rec.Targets {
		if target.Status != TargetUploading {
			continue
		}
		since := target.UpdatedAt
		if target.StartedAt != nil {
			since = *target.StartedAt
		}
		if since.Before(cutoff) {
			out = append(out, StaleEntry{RecordingID: rec.ID, Kind: StaleUpload, Name: string(target.Type), Since: since})
		}
	}
	return out
}
