package workflow

import (
	"context"
	"fmt"
	"time"

	"recflow/internal/configtree"
	"recflow/internal/recording"
	"recflow/internal/services"
	"recflow/internal/store"
)

// Get returns the full recording aggregate.
func (e *Engine) Get(ctx context.Context, id string) (*recording.Recording, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, classify("get", id, err)
	}
	if rec == nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "get", fmt.Sprintf("recording %s not found", id), nil)
	}
	return rec, nil
}

// GetStatus returns the status view of a recording.
func (e *Engine) GetStatus(ctx context.Context, id string) (StatusView, error) {
	rec, err := e.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return viewOf(rec), nil
}

// List returns recordings matching filter.
func (e *Engine) List(ctx context.Context, filter store.Filter) ([]*recording.Recording, error) {
	return e.store.List(ctx, filter)
}

// Stats counts live recordings per status.
func (e *Engine) Stats(ctx context.Context) (map[recording.Status]int, error) {
	return e.store.Stats(ctx)
}

// Health reports database diagnostics.
func (e *Engine) Health(ctx context.Context) (store.DatabaseHealth, error) {
	return e.store.CheckHealth(ctx)
}

// IsReadyToUpload reports whether every stage of the recording completed.
func (e *Engine) IsReadyToUpload(ctx context.Context, id string) (bool, error) {
	rec, err := e.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return recording.IsReadyToUpload(rec), nil
}

// IsUploadAllowed reports whether an upload to target may start.
func (e *Engine) IsUploadAllowed(ctx context.Context, id string, target recording.TargetType) (bool, error) {
	if err := requireTarget("is_upload_allowed", target); err != nil {
		return false, err
	}
	rec, err := e.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return recording.IsUploadAllowed(rec, target), nil
}

// StaleWork lists downloads, stages and uploads in flight for longer than
// olderThan. A non-positive olderThan uses the configured heartbeat timeout.
func (e *Engine) StaleWork(ctx context.Context, olderThan time.Duration) ([]recording.StaleEntry, error) {
	if olderThan <= 0 {
		olderThan = e.cfg.HeartbeatTimeout()
	}
	return e.store.StaleWork(ctx, time.Now().UTC().Add(-olderThan))
}

// Resolve returns the merged options of one stage family for a recording.
func (e *Engine) Resolve(ctx context.Context, id, family string) (configtree.StageConfig, error) {
	rec, err := e.Get(ctx, id)
	if err != nil {
		return configtree.StageConfig{}, err
	}
	return e.resolver.Resolve(rec, family)
}
