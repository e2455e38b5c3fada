package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"recflow/internal/recording"
)

// DatabaseHealth captures diagnostic details about the recording database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingTables    []string
	Recordings       int
	IntegrityCheck   bool
	Error            string
}

var expectedTables = []string{"recordings", "processing_stages", "output_targets", "schema_version"}

// Stats returns the number of live recordings per status.
func (s *Store) Stats(ctx context.Context) (map[recording.Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM recordings WHERE deleted = 0 GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("recording stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[recording.Status]int)
	for rows.Next() {
		var status recording.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// StaleWork returns downloads, stages and uploads that started before cutoff
// and are still in flight.
func (s *Store) StaleWork(ctx context.Context, cutoff time.Time) ([]recording.StaleEntry, error) {
	ctx = ensureContext(ctx)
	bound := formatTime(cutoff)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM recordings r
        WHERE r.deleted = 0 AND (
            (r.status = ? AND r.status_changed_at < ?)
            OR EXISTS (SELECT 1 FROM processing_stages p
                WHERE p.recording_id = r.id AND p.status = ? AND COALESCE(p.started_at, p.updated_at) < ?)
            OR EXISTS (SELECT 1 FROM output_targets o
                WHERE o.recording_id = r.id AND o.status = ? AND COALESCE(o.started_at, o.updated_at) < ?)
        )
        ORDER BY r.created_at, r.id`,
		string(recording.StatusDownloading), bound,
		string(recording.StageInProgress), bound,
		string(recording.TargetUploading), bound,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale work: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var entries []recording.StaleEntry
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		entries = append(entries, recording.StaleWork(rec, cutoff)...)
	}
	return entries, nil
}

// CheckHealth returns diagnostic information about the recording database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("recording database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat recording database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("recording database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("recording database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping recording database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range expectedTables {
		var name string
		row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table)
		switch err := row.Scan(&name); {
		case errors.Is(err, sql.ErrNoRows):
			health.MissingTables = append(health.MissingTables, table)
		case err != nil:
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		default:
			health.TablesPresent = append(health.TablesPresent, name)
		}
	}
	if len(health.MissingTables) > 0 {
		return health, nil
	}

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM recordings").Scan(&health.Recordings); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count recordings: %w", err)
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
