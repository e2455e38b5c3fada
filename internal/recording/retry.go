package recording

import "fmt"

// RetryResult reports whether a retry changed anything. Nothing to retry is
// a normal result, never an error.
type RetryResult struct {
	Retried bool
	Reason  string
	Outcome Outcome
}

const (
	reasonNothingToRetry = "nothing to retry"
	reasonNotMapped      = "source not mapped"
	reasonDeleted        = "recording deleted"
)

// RetryDownload clears a download failure and returns the recording to
// initialized. Stage and target records are left untouched. Unmapped
// recordings stay skipped until a source is mapped.
func RetryDownload(rec *Recording) RetryResult {
	res := RetryResult{Outcome: Outcome{Previous: rec.Status, Status: rec.Status}}
	switch {
	case rec.Deleted:
		res.Reason = reasonDeleted
		return res
	case !rec.Failed || rec.FailedAtStage != OperationDownload:
		res.Reason = reasonNothingToRetry
		return res
	case !rec.Mapped:
		res.Reason = reasonNotMapped
		return res
	}
	ts := now()
	rec.clearFailure(ts)
	rec.setStatus(StatusInitialized, ts)
	res.Retried = true
	res.Outcome.Status = rec.Status
	return res
}

// RetryStage resets a failed stage to pending. Dependents skipped because of
// it stay skipped; see ReenableDependents.
func RetryStage(rec *Recording, t StageType) RetryResult {
	res := RetryResult{Outcome: Outcome{Previous: rec.Status, Status: rec.Status}}
	if rec.Deleted {
		res.Reason = reasonDeleted
		return res
	}
	stage, ok := rec.Stage(t)
	if !ok || stage.Status != StageFailed {
		res.Reason = reasonNothingToRetry
		return res
	}
	ts := now()
	stage.Status = StagePending
	stage.FailedReason = ""
	stage.StartedAt = nil
	stage.CompletedAt = nil
	stage.UpdatedAt = ts
	rec.settleFailure(ts)
	rec.setStatus(Recompute(rec), ts)
	res.Retried = true
	res.Outcome.Status = rec.Status
	return res
}

// RetryUpload resets exactly one failed target to not_uploaded. Sibling
// targets and their metadata are untouched. A tolerated stage error keeps the
// recording flagged as failed.
func RetryUpload(rec *Recording, target TargetType) RetryResult {
	res := RetryResult{Outcome: Outcome{Previous: rec.Status, Status: rec.Status}}
	if rec.Deleted {
		res.Reason = reasonDeleted
		return res
	}
	tgt, ok := rec.Target(target)
	if !ok || tgt.Status != TargetFailed {
		res.Reason = reasonNothingToRetry
		return res
	}
	ts := now()
	tgt.Status = TargetNotUploaded
	tgt.FailedReason = ""
	tgt.StartedAt = nil
	tgt.UpdatedAt = ts
	rec.settleFailure(ts)
	rec.setStatus(Recompute(rec), ts)
	res.Retried = true
	res.Outcome.Status = rec.Status
	return res
}

// MapSource records that the recording now has a valid input. A recording
// parked in skipped because its source was missing returns to initialized;
// failure flags are kept so RetryDownload can still clear them.
func MapSource(rec *Recording) (Outcome, error) {
	out := Outcome{Previous: rec.Status, Status: rec.Status}
	if rec.Deleted {
		return out, fmt.Errorf("%w: recording deleted", ErrInvalidTransition)
	}
	ts := now()
	rec.Mapped = true
	rec.UpdatedAt = ts
	if rec.Status == StatusSkipped || rec.Status == StatusPendingSource {
		rec.setStatus(StatusInitialized, ts)
	}
	out.Status = rec.Status
	return out, nil
}

// String renders the result for logs and CLI output.
func (r RetryResult) String() string {
	if r.Retried {
		return fmt.Sprintf("retried (%s -> %s)", r.Outcome.Previous, r.Outcome.Status)
	}
	return r.Reason
}
