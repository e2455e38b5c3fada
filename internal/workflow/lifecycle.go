package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recflow/internal/logging"
	"recflow/internal/recording"
	"recflow/internal/services"
)

// CreateRecording registers a new recording in the initialized state, or in
// pending_source when no source is mapped yet. Unknown presets and templates
// are rejected up front.
func (e *Engine) CreateRecording(ctx context.Context, req NewRecording) (*recording.Recording, error) {
	ctx, _ = withCorrelation(ctx)
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	rec := recording.New(id, req.Title, req.Mapped)
	if !req.Mapped {
		rec.Status = recording.StatusPendingSource
	}
	rec.Preset = strings.TrimSpace(req.Preset)
	rec.Template = strings.TrimSpace(req.Template)
	rec.Overrides = req.Overrides
	if _, err := e.resolver.Tree(rec); err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	ctx = services.WithRecordingID(ctx, id)
	e.decisionLogger(ctx).Info("recording registered",
		logging.Args(append(logging.DecisionAttrs("create", "applied", "new recording"),
			logging.String("status_to", string(rec.Status)),
		)...)...)
	return rec, nil
}

// SetOverrides replaces the manual override layer of a recording. Null
// values inherit from the lower layers.
func (e *Engine) SetOverrides(ctx context.Context, id string, overrides map[string]any) (Decision, error) {
	decision, err := e.apply(ctx, id, "set_overrides", func(_ context.Context, rec *recording.Recording) (change, error) {
		if rec.Deleted {
			return change{}, fmt.Errorf("%w: recording deleted", recording.ErrInvalidTransition)
		}
		candidate := rec.Clone()
		candidate.Overrides = overrides
		if _, err := e.resolver.Tree(candidate); err != nil {
			return change{}, err
		}
		rec.Overrides = overrides
		rec.UpdatedAt = time.Now().UTC()
		return change{outcome: recording.Outcome{Previous: rec.Status, Status: rec.Status}}, nil
	})
	e.resolver.Invalidate(id)
	return decision, err
}

// SoftDelete flags a recording as deleted. Later outcome reports are ignored.
func (e *Engine) SoftDelete(ctx context.Context, id string) (Decision, error) {
	return e.apply(ctx, id, "soft_delete", func(_ context.Context, rec *recording.Recording) (change, error) {
		out := recording.Outcome{Previous: rec.Status, Status: rec.Status}
		if rec.Deleted {
			out.Stale = true
			return change{outcome: out}, nil
		}
		rec.Deleted = true
		rec.UpdatedAt = time.Now().UTC()
		return change{outcome: out}, nil
	})
}

// Delete removes a recording with all of its stages and targets.
func (e *Engine) Delete(ctx context.Context, id string) error {
	ctx, _ = withCorrelation(ctx)
	ctx = services.WithRecordingID(ctx, id)
	removed, err := e.store.Delete(ctx, id)
	if err != nil {
		return classify("delete", id, err)
	}
	e.resolver.Invalidate(id)
	if !removed {
		return services.Wrap(services.ErrNotFound, "workflow", "delete", fmt.Sprintf("recording %s not found", id), nil)
	}
	e.decisionLogger(ctx).Info("recording removed",
		logging.Args(logging.DecisionAttrs("delete", "applied", "hard delete")...)...)
	return nil
}
