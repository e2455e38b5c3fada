package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"recflow/internal/config"
	"recflow/internal/recording"
	"recflow/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewRecording persists a fresh mapped recording and returns it.
func NewRecording(t testing.TB, st *store.Store, title string) *recording.Recording {
	t.Helper()

	rec := recording.New(uuid.NewString(), title, true)
	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}

// SaveRecording persists a recording built in memory, such as one already
// advanced through pipeline states.
func SaveRecording(t testing.TB, st *store.Store, rec *recording.Recording) *recording.Recording {
	t.Helper()

	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}
