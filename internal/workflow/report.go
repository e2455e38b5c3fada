package workflow

import (
	"context"
	"fmt"
	"strings"

	"recflow/internal/logging"
	"recflow/internal/recording"
	"recflow/internal/services"
)

func (o Outcome) validate(operation string) error {
	if _, ok := ParseResult(string(o.Result)); !ok {
		return services.Wrap(services.ErrValidation, "workflow", operation,
			fmt.Sprintf("outcome result %q must be success or failure", o.Result), nil)
	}
	return nil
}

func requireTarget(operation string, target recording.TargetType) error {
	if strings.TrimSpace(string(target)) == "" {
		return services.Wrap(services.ErrValidation, "workflow", operation, "target is required", nil)
	}
	return nil
}

// ReportDownloadOutcome records the result of fetching the source. Success
// creates pending records for every stage enabled for this recording.
func (e *Engine) ReportDownloadOutcome(ctx context.Context, id string, outcome Outcome) (Decision, error) {
	const operation = "report_download"
	if err := outcome.validate(operation); err != nil {
		return Decision{}, err
	}
	return e.apply(ctx, id, operation, func(ctx context.Context, rec *recording.Recording) (change, error) {
		if outcome.Result == ResultFailure {
			out := recording.ApplyDownloadFailure(rec, outcome.Reason)
			return change{outcome: out, failure: &failureNote{
				eventType: "download_failure",
				reason:    outcome.Reason,
				impact:    "recording returned to " + string(out.Status),
				hint:      "fix the source and run retry download",
			}}, nil
		}
		out, err := recording.ApplyDownloadSuccess(rec, e.graph, e.enabledStages(ctx, rec))
		return change{outcome: out}, err
	})
}

// ReportStageOutcome records the result of one processing stage. A failure
// blocks the recording unless the stage family tolerates errors, in which
// case the stage and its dependents are skipped. Trim failures always block.
func (e *Engine) ReportStageOutcome(ctx context.Context, id string, stage recording.StageType, outcome Outcome) (Decision, error) {
	const operation = "report_stage"
	if err := outcome.validate(operation); err != nil {
		return Decision{}, err
	}
	if err := e.knownStage(stage); err != nil {
		return Decision{}, classify(operation, id, err)
	}
	ctx = services.WithStage(ctx, string(stage))
	return e.apply(ctx, id, operation, func(ctx context.Context, rec *recording.Recording) (change, error) {
		if outcome.Result == ResultFailure {
			allow := e.allowErrors(ctx, rec, stage)
			out := recording.ApplyStageFailure(rec, e.graph, stage, outcome.Reason, allow)
			impact := "recording blocked until the stage is retried"
			if st, ok := rec.Stage(stage); ok && st.Status == recording.StageSkipped {
				impact = "stage skipped, pipeline continues"
			}
			return change{outcome: out, failure: &failureNote{
				eventType: "stage_failure",
				reason:    outcome.Reason,
				impact:    impact,
				hint:      "run retry stage once the cause is fixed",
			}}, nil
		}
		out, err := recording.ApplyStageSuccess(rec, e.graph, stage, outcome.Meta)
		return change{outcome: out}, err
	})
}

// ReportUploadOutcome records the result of publishing to one target.
func (e *Engine) ReportUploadOutcome(ctx context.Context, id string, target recording.TargetType, outcome Outcome) (Decision, error) {
	const operation = "report_upload"
	if err := outcome.validate(operation); err != nil {
		return Decision{}, err
	}
	if err := requireTarget(operation, target); err != nil {
		return Decision{}, err
	}
	ctx = services.WithTarget(ctx, string(target))
	return e.apply(ctx, id, operation, func(ctx context.Context, rec *recording.Recording) (change, error) {
		if outcome.Result == ResultFailure {
			out := recording.ApplyUploadFailure(rec, target, outcome.Reason)
			return change{outcome: out, failure: &failureNote{
				eventType: "upload_failure",
				reason:    outcome.Reason,
				impact:    "target " + string(target) + " not published",
				hint:      "run retry upload for the target",
			}}, nil
		}
		out, err := recording.ApplyUploadSuccess(rec, target, outcome.Meta)
		return change{outcome: out}, err
	})
}

// StartDownload marks the source fetch as in flight.
func (e *Engine) StartDownload(ctx context.Context, id string) (Decision, error) {
	return e.apply(ctx, id, "start_download", func(_ context.Context, rec *recording.Recording) (change, error) {
		out, err := recording.StartDownload(rec)
		return change{outcome: out}, err
	})
}

// StartStage marks a stage as in progress once its dependencies are met.
func (e *Engine) StartStage(ctx context.Context, id string, stage recording.StageType) (Decision, error) {
	const operation = "start_stage"
	if err := e.knownStage(stage); err != nil {
		return Decision{}, classify(operation, id, err)
	}
	ctx = services.WithStage(ctx, string(stage))
	return e.apply(ctx, id, operation, func(_ context.Context, rec *recording.Recording) (change, error) {
		out, err := recording.StartStage(rec, e.graph, stage)
		return change{outcome: out}, err
	})
}

// StartUpload marks an upload to target as in flight.
func (e *Engine) StartUpload(ctx context.Context, id string, target recording.TargetType) (Decision, error) {
	const operation = "start_upload"
	if err := requireTarget(operation, target); err != nil {
		return Decision{}, err
	}
	ctx = services.WithTarget(ctx, string(target))
	return e.apply(ctx, id, operation, func(_ context.Context, rec *recording.Recording) (change, error) {
		out, err := recording.StartUpload(rec, target)
		return change{outcome: out}, err
	})
}

// allowErrors resolves the error tolerance of a stage family. Resolution
// problems fail closed.
func (e *Engine) allowErrors(ctx context.Context, rec *recording.Recording, stage recording.StageType) bool {
	cfg, err := e.resolver.Resolve(rec, string(stage))
	if err != nil {
		logging.WarnWithContext(e.decisionLogger(ctx), "config resolution failed; treating stage errors as blocking", "config_resolution",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stage failure blocks the recording"),
			logging.String(logging.FieldErrorHint, "check the recording preset, template and overrides"),
		)
		return false
	}
	if !cfg.Resolved {
		e.decisionLogger(ctx).Debug("allow_errors unresolved; treating stage errors as blocking")
	}
	return cfg.AllowErrors
}

// enabledStages reports which stage types get a record on download success.
// Resolution problems keep every stage enabled.
func (e *Engine) enabledStages(ctx context.Context, rec *recording.Recording) func(recording.StageType) bool {
	return func(stage recording.StageType) bool {
		cfg, err := e.resolver.Resolve(rec, string(stage))
		if err != nil {
			logging.WarnWithContext(e.decisionLogger(ctx), "config resolution failed; enabling stage", "config_resolution",
				logging.Error(err),
				logging.String(logging.FieldStage, string(stage)),
				logging.String(logging.FieldImpact, "stage runs with default options"),
				logging.String(logging.FieldErrorHint, "check the recording preset, template and overrides"),
			)
			return true
		}
		return cfg.StageEnabled
	}
}
