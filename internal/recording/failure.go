package recording

import "time"

func now() time.Time {
	return time.Now().UTC()
}

// ApplyDownloadFailure rolls the recording back to the state preceding
// downloaded: initialized when the source is mapped, skipped otherwise.
// Reports arriving once the download has completed are stale.
func ApplyDownloadFailure(rec *Recording, reason string) Outcome {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if rec.Deleted || !downloadPending(rec.Status) {
		out.Stale = true
		return out
	}
	ts := now()
	rec.markFailed(OperationDownload, reason, ts)
	if rec.Mapped {
		rec.setStatus(StatusInitialized, ts)
	} else {
		rec.setStatus(StatusSkipped, ts)
	}
	out.Status = rec.Status
	return out
}

// ApplyStageFailure records a failed stage. Trim always blocks. Other stages
// block when allowErrors is false and are skipped together with their
// transitive dependents when it is true. Reports against a stage that is
// already completed or skipped are stale and change nothing, as are reports
// arriving before the download completed or for a stage without a record.
func ApplyStageFailure(rec *Recording, graph *Graph, t StageType, reason string, allowErrors bool) Outcome {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if checkStageEvent(rec, graph, t) != nil {
		out.Stale = true
		return out
	}
	stage, ok := rec.Stage(t)
	if !ok || stage.Status.Terminal() {
		out.Stale = true
		return out
	}

	ts := now()
	stage.FailedReason = reason
	stage.UpdatedAt = ts
	rec.markFailed(string(t), reason, ts)

	if t == StageTrim || !allowErrors {
		stage.Status = StageFailed
		rec.setStatus(StatusDownloaded, ts)
		out.Status = rec.Status
		return out
	}

	stage.Status = StageSkipped
	stage.Meta = setMeta(stage.Meta, MetaSkipReason, SkipReasonError)
	delete(stage.Meta, MetaParentStage)
	stage.CompletedAt = &ts
	out.Skipped = CascadeSkip(rec, graph, t)
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out
}

// CascadeSkip marks every transitive dependent of from that exists on the
// recording and is not terminal as skipped with skip_reason=parent_failed.
// Completed work is never overwritten.
func CascadeSkip(rec *Recording, graph *Graph, from StageType) []StageType {
	ts := now()
	var skipped []StageType
	for _, dep := range graph.TransitiveDependents(from) {
		stage, ok := rec.Stage(dep)
		if !ok || stage.Status.Terminal() {
			continue
		}
		stage.Status = StageSkipped
		stage.Meta = setMeta(stage.Meta, MetaSkipReason, SkipReasonParentFailed)
		stage.Meta[MetaParentStage] = string(from)
		stage.UpdatedAt = ts
		skipped = append(skipped, dep)
	}
	if len(skipped) > 0 {
		rec.UpdatedAt = ts
	}
	return skipped
}

// ApplyUploadFailure fails exactly one target and recomputes the aggregate.
// Reports arriving before processing finished are stale.
func ApplyUploadFailure(rec *Recording, target TargetType, reason string) Outcome {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if rec.Deleted || rec.Status.Rank() < StatusProcessed.Rank() {
		out.Stale = true
		return out
	}
	if existing, ok := rec.Target(target); ok && existing.Status == TargetUploaded {
		out.Stale = true
		return out
	}
	ts := now()
	tgt := rec.ensureTarget(target, ts)
	tgt.Status = TargetFailed
	tgt.FailedReason = reason
	tgt.UpdatedAt = ts
	rec.markFailed(UploadOperation(target), reason, ts)
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out
}

func downloadPending(status Status) bool {
	switch status {
	case StatusInitialized, StatusDownloading, StatusSkipped, StatusPendingSource:
		return true
	default:
		return false
	}
}

func setMeta(meta map[string]string, key, value string) map[string]string {
	if meta == nil {
		meta = make(map[string]string, 2)
	}
	meta[key] = value
	return meta
}
