package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"recflow/internal/logging"
	"recflow/internal/recording"
	"recflow/internal/services"
)

// change is what a mutation callback reports back to apply. Callbacks may
// run more than once, so logging waits until the mutation has committed.
type change struct {
	outcome   recording.Outcome
	retry     *recording.RetryResult
	reenabled []recording.StageType
	failure   *failureNote
}

// failureNote carries the operator warning for an applied failure report.
type failureNote struct {
	eventType string
	reason    string
	impact    string
	hint      string
}

type mutation func(ctx context.Context, rec *recording.Recording) (change, error)

// apply runs fn inside the per-recording serialization boundary and logs the
// resulting decision.
func (e *Engine) apply(ctx context.Context, id, operation string, fn mutation) (Decision, error) {
	ctx, correlationID := withCorrelation(ctx)
	ctx = services.WithRecordingID(ctx, id)

	var result change
	rec, err := e.store.Mutate(ctx, id, func(rec *recording.Recording) error {
		var fnErr error
		result, fnErr = fn(ctx, rec)
		return fnErr
	})
	logger := e.decisionLogger(ctx)
	if err != nil {
		err = classify(operation, id, err)
		logger.Info("recording decision",
			logging.Args(append(logging.DecisionAttrs(operation, "rejected", err.Error()),
				logging.String("error_kind", services.Kind(err)))...)...)
		return Decision{CorrelationID: correlationID}, err
	}

	decision := Decision{
		CorrelationID: correlationID,
		View:          viewOf(rec),
		Previous:      result.outcome.Previous,
		Skipped:       result.outcome.Skipped,
		Reenabled:     result.reenabled,
		Stale:         result.outcome.Stale,
	}
	if result.retry != nil {
		decision.Retried = result.retry.Retried
		decision.Note = result.retry.Reason
		decision.Previous = result.retry.Outcome.Previous
	}
	if note := result.failure; note != nil && !decision.Stale {
		e.logFailure(logger, note)
	}
	e.logDecision(logger, operation, decision)
	return decision, nil
}

func (e *Engine) decisionLogger(ctx context.Context) *slog.Logger {
	logger := e.logger
	if stage, ok := services.StageFromContext(ctx); ok && e.cfg != nil {
		logger = logging.ForStage(logger, e.cfg.Logging.StageOverrides, stage)
	}
	return logging.WithContext(ctx, logger)
}

func (e *Engine) logDecision(logger *slog.Logger, operation string, d Decision) {
	result := "applied"
	reason := string(d.Previous) + " -> " + string(d.View.Status)
	switch {
	case d.Stale:
		result, reason = "stale", "already settled"
	case d.Note != "":
		result, reason = "noop", d.Note
	}
	attrs := logging.DecisionAttrs(operation, result, reason)
	attrs = append(attrs,
		logging.String("status_from", string(d.Previous)),
		logging.String("status_to", string(d.View.Status)),
		logging.Bool("failed", d.View.Failed),
	)
	if len(d.Skipped) > 0 {
		attrs = append(attrs, logging.String("skipped", joinStages(d.Skipped)))
	}
	if len(d.Reenabled) > 0 {
		attrs = append(attrs, logging.String("reenabled", joinStages(d.Reenabled)))
	}
	logger.Info("recording decision", logging.Args(attrs...)...)
}

// logFailure emits the operator-facing warning for a failure report.
func (e *Engine) logFailure(logger *slog.Logger, note *failureNote) {
	logging.WarnWithContext(logger, "work reported failure", note.eventType,
		logging.Alert(note.eventType),
		logging.String("reason", note.reason),
		logging.String(logging.FieldImpact, note.impact),
		logging.String(logging.FieldErrorHint, note.hint),
	)
}

func withCorrelation(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id, ok := services.RequestIDFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return services.WithRequestID(ctx, id), id
}

// classify maps store and domain errors onto the services markers.
func classify(operation, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrConfiguration),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrTimeout),
		errors.Is(err, services.ErrTransient):
		return err
	case errors.Is(err, recording.ErrUnknownStage),
		errors.Is(err, recording.ErrDependencyUnmet),
		errors.Is(err, recording.ErrUploadNotAllowed),
		errors.Is(err, recording.ErrInvalidTransition):
		return services.Wrap(services.ErrValidation, "workflow", operation, "recording "+id, err)
	default:
		return services.Wrap(services.ErrTransient, "workflow", operation, "recording "+id, err)
	}
}

func joinStages(stages []recording.StageType) string {
	parts := make([]string, len(stages))
	for i, stage := range stages {
		parts[i] = string(stage)
	}
	return strings.Join(parts, ",")
}
