package workflow

import (
	"context"

	"recflow/internal/recording"
	"recflow/internal/services"
)

// RetryDownload clears a download failure so the source can be fetched again.
// Having nothing to retry is reported through Decision.Note, not an error.
func (e *Engine) RetryDownload(ctx context.Context, id string) (Decision, error) {
	return e.apply(ctx, id, "retry_download", func(_ context.Context, rec *recording.Recording) (change, error) {
		res := recording.RetryDownload(rec)
		return change{outcome: res.Outcome, retry: &res}, nil
	})
}

// RetryStage resets a failed stage to pending.
func (e *Engine) RetryStage(ctx context.Context, id string, stage recording.StageType) (Decision, error) {
	const operation = "retry_stage"
	if err := e.knownStage(stage); err != nil {
		return Decision{}, classify(operation, id, err)
	}
	ctx = services.WithStage(ctx, string(stage))
	return e.apply(ctx, id, operation, func(_ context.Context, rec *recording.Recording) (change, error) {
		res := recording.RetryStage(rec, stage)
		return change{outcome: res.Outcome, retry: &res}, nil
	})
}

// RetryUpload resets a failed target so it can be uploaded again.
func (e *Engine) RetryUpload(ctx context.Context, id string, target recording.TargetType) (Decision, error) {
	const operation = "retry_upload"
	if err := requireTarget(operation, target); err != nil {
		return Decision{}, err
	}
	ctx = services.WithTarget(ctx, string(target))
	return e.apply(ctx, id, operation, func(_ context.Context, rec *recording.Recording) (change, error) {
		res := recording.RetryUpload(rec, target)
		return change{outcome: res.Outcome, retry: &res}, nil
	})
}

// ReenableDependents returns stages skipped because parent (or one of its
// ancestors) failed to pending, once parent has completed.
func (e *Engine) ReenableDependents(ctx context.Context, id string, parent recording.StageType) (Decision, error) {
	const operation = "reenable_dependents"
	if err := e.knownStage(parent); err != nil {
		return Decision{}, classify(operation, id, err)
	}
	ctx = services.WithStage(ctx, string(parent))
	return e.apply(ctx, id, operation, func(_ context.Context, rec *recording.Recording) (change, error) {
		out, reenabled, err := recording.ReenableDependents(rec, e.graph, parent)
		return change{outcome: out, reenabled: reenabled}, err
	})
}

// MapSource records that a recording now has a usable source. Recordings
// parked as skipped or pending_source return to initialized.
func (e *Engine) MapSource(ctx context.Context, id string) (Decision, error) {
	return e.apply(ctx, id, "map_source", func(_ context.Context, rec *recording.Recording) (change, error) {
		out, err := recording.MapSource(rec)
		return change{outcome: out}, err
	})
}
