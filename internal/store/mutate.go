package store

import (
	"context"
	"fmt"

	"recflow/internal/recording"
	"recflow/internal/services"
)

// MutateFunc transforms a recording in place. Returning an error aborts the
// transaction and nothing is written.
type MutateFunc func(rec *recording.Recording) error

// Mutate loads the recording, applies fn and persists the result atomically.
// Calls for the same recording are serialized across goroutines and
// processes; fn always sees the state committed by the previous call. fn may
// run more than once if SQLite reports contention, so it must not have side
// effects beyond rec. The committed state is returned.
func (s *Store) Mutate(ctx context.Context, id string, fn MutateFunc) (*recording.Recording, error) {
	ctx = ensureContext(ctx)
	if fn == nil {
		return nil, services.Wrap(services.ErrValidation, "store", "mutate", "mutation is required", nil)
	}
	var result *recording.Recording
	err := s.withRecordingLock(ctx, id, func() error {
		return retryOnBusy(ctx, func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()

			current, err := getRecording(ctx, tx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return services.Wrap(services.ErrNotFound, "store", "mutate", fmt.Sprintf("recording %s not found", id), nil)
			}
			working := current.Clone()
			if err := fn(working); err != nil {
				return err
			}
			working.ID = current.ID
			if err := updateRecording(ctx, tx, working); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit mutation: %w", err)
			}
			result = working
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
