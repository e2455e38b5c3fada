package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"recflow/internal/recording"
	"recflow/internal/services"
	"recflow/internal/store"
	"recflow/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingTables) != 0 {
		t.Fatalf("missing tables: %v", health.MissingTables)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("schema version = %d", health.SchemaVersion)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := testsupport.NewRecording(t, st, "Keynote")
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Title != "Keynote" {
		t.Fatalf("unexpected recording after reopen: %#v", got)
	}
}

func TestCreateRoundTripsAggregate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := recording.New("rec-1", "Talk", true)
	rec.Preset = "youtube"
	rec.Template = "lecture"
	rec.Overrides = map[string]any{"processing": map[string]any{"allow_errors": true}}
	if _, err := recording.ApplyDownloadSuccess(rec, recording.DefaultGraph(), nil); err != nil {
		t.Fatalf("ApplyDownloadSuccess: %v", err)
	}
	if _, err := recording.StartStage(rec, recording.DefaultGraph(), recording.StageTrim); err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	if _, err := recording.ApplyStageSuccess(rec, recording.DefaultGraph(), recording.StageTrim, map[string]string{"duration": "42"}); err != nil {
		t.Fatalf("ApplyStageSuccess: %v", err)
	}
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := st.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != rec.Status || got.Preset != "youtube" || got.Template != "lecture" {
		t.Fatalf("unexpected recording: %#v", got)
	}
	if len(got.Stages) != len(rec.Stages) {
		t.Fatalf("stages = %d, want %d", len(got.Stages), len(rec.Stages))
	}
	for i := range rec.Stages {
		if got.Stages[i].Type != rec.Stages[i].Type || got.Stages[i].Status != rec.Stages[i].Status {
			t.Fatalf("stage %d = %+v, want %+v", i, got.Stages[i], rec.Stages[i])
		}
	}
	trim, _ := got.Stage(recording.StageTrim)
	if trim.Meta["duration"] != "42" || trim.CompletedAt == nil {
		t.Fatalf("trim not persisted: %+v", trim)
	}
	processing, ok := got.Overrides["processing"].(map[string]any)
	if !ok || processing["allow_errors"] != true {
		t.Fatalf("overrides not persisted: %#v", got.Overrides)
	}
	if !got.StatusChangedAt.Equal(rec.StatusChangedAt) {
		t.Fatalf("status_changed_at = %v, want %v", got.StatusChangedAt, rec.StatusChangedAt)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	rec := testsupport.NewRecording(t, st, "Once")
	err := st.Create(context.Background(), recording.New(rec.ID, "Twice", true))
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	got, err := st.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}

func TestListFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	fresh := testsupport.NewRecording(t, st, "fresh")
	failed := testsupport.NewRecording(t, st, "failed")
	gone := testsupport.NewRecording(t, st, "gone")

	if _, err := st.Mutate(ctx, failed.ID, func(rec *recording.Recording) error {
		recording.ApplyDownloadFailure(rec, "404")
		return nil
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if _, err := st.Mutate(ctx, gone.ID, func(rec *recording.Recording) error {
		rec.Deleted = true
		return nil
	}); err != nil {
		t.Fatalf("Mutate deleted: %v", err)
	}

	all, err := st.List(ctx, store.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("live recordings = %d, want 2", len(all))
	}

	withDeleted, err := st.List(ctx, store.Filter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("List deleted: %v", err)
	}
	if len(withDeleted) != 3 {
		t.Fatalf("all recordings = %d, want 3", len(withDeleted))
	}

	onlyFailed, err := st.List(ctx, store.Filter{FailedOnly: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID != failed.ID {
		t.Fatalf("failed filter returned %v", onlyFailed)
	}

	initialized, err := st.List(ctx, store.Filter{Statuses: []recording.Status{recording.StatusInitialized}})
	if err != nil {
		t.Fatalf("List status: %v", err)
	}
	ids := map[string]bool{}
	for _, rec := range initialized {
		ids[rec.ID] = true
	}
	if !ids[fresh.ID] || !ids[failed.ID] || len(ids) != 2 {
		t.Fatalf("status filter returned %v", ids)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[recording.StatusInitialized] != 2 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestDeleteRemovesChildrenAndLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec := testsupport.NewRecording(t, st, "doomed")
	if _, err := st.Mutate(ctx, rec.ID, func(r *recording.Recording) error {
		_, err := recording.ApplyDownloadSuccess(r, recording.DefaultGraph(), nil)
		return err
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(cfg.LockDir(), rec.ID+"-*.lock"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one lock file after mutation, got %v (%v)", matches, err)
	}
	lockPath := matches[0]

	removed, err := st.Delete(ctx, rec.ID)
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	if got, _ := st.Get(ctx, rec.ID); got != nil {
		t.Fatalf("recording still present: %#v", got)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock file not removed: %v", err)
	}

	removed, err = st.Delete(ctx, rec.ID)
	if err != nil || removed {
		t.Fatalf("second Delete = %v, %v", removed, err)
	}
}

func TestStaleWorkFindsOldInFlightWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	stuck := recording.New("stuck", "stuck", true)
	if _, err := recording.ApplyDownloadSuccess(stuck, recording.DefaultGraph(), nil); err != nil {
		t.Fatalf("ApplyDownloadSuccess: %v", err)
	}
	if _, err := recording.StartStage(stuck, recording.DefaultGraph(), recording.StageTrim); err != nil {
		t.Fatalf("StartStage: %v", err)
	}
	trim, _ := stuck.Stage(recording.StageTrim)
	trim.StartedAt = &old
	testsupport.SaveRecording(t, st, stuck)

	downloading := recording.New("downloading", "downloading", true)
	if _, err := recording.StartDownload(downloading); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	downloading.StatusChangedAt = old
	testsupport.SaveRecording(t, st, downloading)

	testsupport.NewRecording(t, st, "idle")

	entries, err := st.StaleWork(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("StaleWork: %v", err)
	}
	kinds := map[string]recording.StaleKind{}
	for _, entry := range entries {
		kinds[entry.RecordingID] = entry.Kind
	}
	if len(kinds) != 2 || kinds["stuck"] != recording.StaleStage || kinds["downloading"] != recording.StaleDownload {
		t.Fatalf("unexpected stale entries: %+v", entries)
	}
}
