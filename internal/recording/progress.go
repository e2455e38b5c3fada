package recording

import (
	"fmt"
	"strings"
	"time"
)

// StartDownload moves an initialized recording into downloading.
func StartDownload(rec *Recording) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if rec.Deleted {
		return out, fmt.Errorf("%w: recording deleted", ErrInvalidTransition)
	}
	switch rec.Status {
	case StatusDownloading:
		return out, nil
	case StatusInitialized:
	default:
		return out, fmt.Errorf("%w: cannot download from %s", ErrInvalidTransition, rec.Status)
	}
	rec.setStatus(StatusDownloading, now())
	out.Status = rec.Status
	return out, nil
}

// ApplyDownloadSuccess marks the source as fetched and creates pending stage
// records for the enabled stage types. Disabled types never get a record.
func ApplyDownloadSuccess(rec *Recording, graph *Graph, enabled func(StageType) bool) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if rec.Deleted {
		return out, fmt.Errorf("%w: recording deleted", ErrInvalidTransition)
	}
	if rec.Status.AtLeast(StatusDownloaded) {
		out.Stale = true
		return out, nil
	}
	if rec.Status != StatusInitialized && rec.Status != StatusDownloading {
		return out, fmt.Errorf("%w: cannot complete download from %s", ErrInvalidTransition, rec.Status)
	}
	ts := now()
	for _, t := range graph.Order() {
		if enabled != nil && !enabled(t) {
			continue
		}
		rec.ensureStage(graph, t, ts)
	}
	if rec.Failed && rec.FailedAtStage == OperationDownload {
		rec.clearFailure(ts)
	}
	rec.setStatus(StatusDownloaded, ts)
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out, nil
}

// StartStage moves a stage into in_progress once its dependencies are met.
func StartStage(rec *Recording, graph *Graph, t StageType) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if err := checkStageEvent(rec, graph, t); err != nil {
		return out, err
	}
	if stage, ok := rec.Stage(t); ok {
		switch stage.Status {
		case StageInProgress:
			return out, nil
		case StageCompleted:
			out.Stale = true
			return out, nil
		case StageSkipped:
			if !rerunnable(stage) {
				out.Stale = true
				return out, nil
			}
		case StageFailed:
			return out, fmt.Errorf("%w: stage %s failed; retry it first", ErrInvalidTransition, t)
		}
	}
	stage, ok := rec.Stage(t)
	if !ok {
		return out, fmt.Errorf("%w: stage %s is not enabled for this recording", ErrInvalidTransition, t)
	}
	if !graph.DependenciesMet(rec, t) {
		return out, fmt.Errorf("%w: %s", ErrDependencyUnmet, t)
	}
	ts := now()
	stage.Status = StageInProgress
	clearSkipMeta(stage)
	stage.StartedAt = &ts
	stage.CompletedAt = nil
	stage.FailedReason = ""
	stage.UpdatedAt = ts
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out, nil
}

// ApplyStageSuccess completes a stage. A duplicate success report is a no-op.
// A stage skipped by its own tolerated error may still complete on a rerun.
// Stages without a record were disabled, so their reports are stale.
func ApplyStageSuccess(rec *Recording, graph *Graph, t StageType, meta map[string]string) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if err := checkStageEvent(rec, graph, t); err != nil {
		return out, err
	}
	stage, ok := rec.Stage(t)
	if !ok || (stage.Status.Terminal() && !rerunnable(stage)) {
		out.Stale = true
		return out, nil
	}
	if !graph.DependenciesMet(rec, t) {
		return out, fmt.Errorf("%w: %s", ErrDependencyUnmet, t)
	}
	ts := now()
	if stage.StartedAt == nil {
		stage.StartedAt = &ts
	}
	stage.Status = StageCompleted
	clearSkipMeta(stage)
	stage.CompletedAt = &ts
	stage.FailedReason = ""
	for k, v := range meta {
		stage.Meta = setMeta(stage.Meta, k, v)
	}
	stage.UpdatedAt = ts
	rec.settleFailure(ts)
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out, nil
}

// StartUpload moves a target into uploading.
func StartUpload(rec *Recording, target TargetType) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if existing, ok := rec.Target(target); ok && existing.Status == TargetUploading {
		return out, nil
	}
	if !IsUploadAllowed(rec, target) {
		return out, fmt.Errorf("%w: %s in status %s", ErrUploadNotAllowed, target, rec.Status)
	}
	if rec.Status.Rank() < StatusProcessed.Rank() {
		return out, fmt.Errorf("%w: processing not finished", ErrUploadNotAllowed)
	}
	ts := now()
	tgt := rec.ensureTarget(target, ts)
	tgt.Status = TargetUploading
	tgt.StartedAt = &ts
	tgt.FailedReason = ""
	tgt.UpdatedAt = ts
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out, nil
}

// ApplyUploadSuccess marks a target uploaded with its platform metadata.
// Failure flags are cleared once no stage or target remains failed.
func ApplyUploadSuccess(rec *Recording, target TargetType, meta map[string]string) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if rec.Deleted {
		return out, fmt.Errorf("%w: recording deleted", ErrInvalidTransition)
	}
	if existing, ok := rec.Target(target); ok && existing.Status == TargetUploaded {
		out.Stale = true
		return out, nil
	}
	if rec.Status.Rank() < StatusProcessed.Rank() {
		return out, fmt.Errorf("%w: cannot upload from %s", ErrInvalidTransition, rec.Status)
	}
	ts := now()
	tgt := rec.ensureTarget(target, ts)
	tgt.Status = TargetUploaded
	tgt.FailedReason = ""
	tgt.Meta = cloneMeta(meta)
	tgt.UpdatedAt = ts
	rec.settleFailure(ts)
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out, nil
}

// ReenableDependents resets stages skipped because parent failed back to
// pending once parent has completed again. It is never called implicitly;
// the external scheduler decides when to re-enqueue dependent work.
func ReenableDependents(rec *Recording, graph *Graph, parent StageType) (Outcome, []StageType, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if err := checkStageEvent(rec, graph, parent); err != nil {
		return out, nil, err
	}
	stage, ok := rec.Stage(parent)
	if !ok || stage.Status != StageCompleted {
		return out, nil, fmt.Errorf("%w: %s is not completed", ErrDependencyUnmet, parent)
	}
	ts := now()
	var reenabled []StageType
	for _, dep := range graph.TransitiveDependents(parent) {
		child, ok := rec.Stage(dep)
		if !ok || child.Status != StageSkipped || child.SkipReason() != SkipReasonParentFailed {
			continue
		}
		if !reachableFrom(graph, parent, StageType(child.Meta[MetaParentStage])) {
			continue
		}
		child.Status = StagePending
		clearSkipMeta(child)
		child.UpdatedAt = ts
		reenabled = append(reenabled, dep)
	}
	if len(reenabled) == 0 {
		return out, nil, nil
	}
	rec.setStatus(Recompute(rec), ts)
	out.Status = rec.Status
	return out, reenabled, nil
}

func checkStageEvent(rec *Recording, graph *Graph, t StageType) error {
	if strings.TrimSpace(string(t)) == "" || !graph.Known(t) {
		return fmt.Errorf("%w: %q", ErrUnknownStage, t)
	}
	if rec.Deleted {
		return fmt.Errorf("%w: recording deleted", ErrInvalidTransition)
	}
	if rec.Status.Rank() < StatusDownloaded.Rank() {
		return fmt.Errorf("%w: stage %s before download completed (status %s)", ErrInvalidTransition, t, rec.Status)
	}
	return nil
}

// reachableFrom reports whether origin is parent itself or one of parent's
// transitive dependencies, i.e. whether completing parent resolves a skip
// that originated at origin.
func reachableFrom(graph *Graph, parent, origin StageType) bool {
	if origin == parent {
		return true
	}
	for _, dep := range graph.TransitiveDependents(origin) {
		if dep == parent {
			return true
		}
	}
	return false
}

func rerunnable(stage *ProcessingStage) bool {
	return stage.Status == StageSkipped && stage.SkipReason() == SkipReasonError
}

func clearSkipMeta(stage *ProcessingStage) {
	delete(stage.Meta, MetaSkipReason)
	delete(stage.Meta, MetaParentStage)
}

// settleFailure re-derives the recording failure flags from what is still
// failing. A tolerated stage error counts until the stage completes. The
// current label is kept while it still applies; otherwise the first remaining
// failure takes over, and with none left the flags are cleared. Download
// failures are only cleared by the download paths.
func (r *Recording) settleFailure(ts time.Time) {
	if !r.Failed || r.FailedAtStage == OperationDownload {
		return
	}
	var (
		label, reason string
		found         bool
	)
	consider := func(l, why string) bool {
		if l == r.FailedAtStage {
			return true
		}
		if !found {
			label, reason, found = l, why, true
		}
		return false
	}
	for i := range r.Stages {
		stage := &r.Stages[i]
		if stage.Status == StageFailed || rerunnable(stage) {
			if consider(string(stage.Type), stage.FailedReason) {
				return
			}
		}
	}
	for _, target := range r.Targets {
		if target.Status == TargetFailed {
			if consider(UploadOperation(target.Type), target.FailedReason) {
				return
			}
		}
	}
	if found {
		r.markFailed(label, reason, ts)
		return
	}
	r.clearFailure(ts)
}
