package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"recflow/internal/recording"
	"recflow/internal/services"
)

const recordingColumns = "id, title, status, failed, failed_at_stage, failed_reason, deleted, mapped, preset, template, overrides_json, created_at, updated_at, status_changed_at"

const stageColumns = "recording_id, stage_type, status, meta_json, failed_reason, started_at, completed_at, updated_at"

const targetColumns = "recording_id, target_type, status, meta_json, failed_reason, started_at, updated_at"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Filter narrows List results. The zero value lists every live recording.
type Filter struct {
	Statuses       []recording.Status
	FailedOnly     bool
	IncludeDeleted bool
	Limit          int
}

func scanRecording(row scanner) (*recording.Recording, error) {
	var (
		id              string
		title           sql.NullString
		statusStr       string
		failed          sql.NullInt64
		failedAtStage   sql.NullString
		failedReason    sql.NullString
		deleted         sql.NullInt64
		mapped          sql.NullInt64
		preset          sql.NullString
		template        sql.NullString
		overridesRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		statusChangeRaw sql.NullString
	)
	if err := row.Scan(
		&id,
		&title,
		&statusStr,
		&failed,
		&failedAtStage,
		&failedReason,
		&deleted,
		&mapped,
		&preset,
		&template,
		&overridesRaw,
		&createdRaw,
		&updatedRaw,
		&statusChangeRaw,
	); err != nil {
		return nil, err
	}

	overrides, err := decodeOverrides(overridesRaw.String)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", id, err)
	}
	rec := &recording.Recording{
		ID:            id,
		Title:         title.String,
		Status:        recording.Status(statusStr),
		Failed:        failed.Valid && failed.Int64 != 0,
		FailedAtStage: failedAtStage.String,
		FailedReason:  failedReason.String,
		Deleted:       deleted.Valid && deleted.Int64 != 0,
		Mapped:        mapped.Valid && mapped.Int64 != 0,
		Preset:        preset.String,
		Template:      template.String,
		Overrides:     overrides,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		rec.UpdatedAt = updated
	}
	if changed, err := parseTimeString(statusChangeRaw.String); err == nil {
		rec.StatusChangedAt = changed
	}
	return rec, nil
}

func scanStage(row scanner) (string, recording.ProcessingStage, error) {
	var (
		recordingID  string
		stageType    string
		statusStr    string
		metaRaw      sql.NullString
		failedReason sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   sql.NullString
	)
	if err := row.Scan(&recordingID, &stageType, &statusStr, &metaRaw, &failedReason, &startedRaw, &completedRaw, &updatedRaw); err != nil {
		return "", recording.ProcessingStage{}, err
	}
	meta, err := decodeMeta(metaRaw.String)
	if err != nil {
		return "", recording.ProcessingStage{}, fmt.Errorf("stage %s/%s: %w", recordingID, stageType, err)
	}
	stage := recording.ProcessingStage{
		Type:         recording.StageType(stageType),
		Status:       recording.StageStatus(statusStr),
		Meta:         meta,
		FailedReason: failedReason.String,
		StartedAt:    parseOptionalTime(startedRaw.String, startedRaw.Valid),
		CompletedAt:  parseOptionalTime(completedRaw.String, completedRaw.Valid),
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		stage.UpdatedAt = updated
	}
	return recordingID, stage, nil
}

func scanTarget(row scanner) (string, recording.OutputTarget, error) {
	var (
		recordingID  string
		targetType   string
		statusStr    string
		metaRaw      sql.NullString
		failedReason sql.NullString
		startedRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := row.Scan(&recordingID, &targetType, &statusStr, &metaRaw, &failedReason, &startedRaw, &updatedRaw); err != nil {
		return "", recording.OutputTarget{}, err
	}
	meta, err := decodeMeta(metaRaw.String)
	if err != nil {
		return "", recording.OutputTarget{}, fmt.Errorf("target %s/%s: %w", recordingID, targetType, err)
	}
	target := recording.OutputTarget{
		Type:         recording.TargetType(targetType),
		Status:       recording.TargetStatus(statusStr),
		Meta:         meta,
		FailedReason: failedReason.String,
		StartedAt:    parseOptionalTime(startedRaw.String, startedRaw.Valid),
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		target.UpdatedAt = updated
	}
	return recordingID, target, nil
}

// loadChildren attaches stages and targets to every recording in one query each.
func loadChildren(ctx context.Context, q querier, recs []*recording.Recording) error {
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[string]*recording.Recording, len(recs))
	args := make([]any, 0, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
		args = append(args, rec.ID)
	}
	if err := loadStages(ctx, q, byID, args); err != nil {
		return err
	}
	return loadTargets(ctx, q, byID, args)
}

func loadStages(ctx context.Context, q querier, byID map[string]*recording.Recording, ids []any) error {
	rows, err := q.QueryContext(ctx,
		"SELECT "+stageColumns+" FROM processing_stages WHERE recording_id IN ("+makePlaceholders(len(ids))+") ORDER BY recording_id, position, stage_type",
		ids...)
	if err != nil {
		return fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		id, stage, err := scanStage(rows)
		if err != nil {
			return err
		}
		if rec := byID[id]; rec != nil {
			rec.Stages = append(rec.Stages, stage)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stages: %w", err)
	}
	return nil
}

func loadTargets(ctx context.Context, q querier, byID map[string]*recording.Recording, ids []any) error {
	rows, err := q.QueryContext(ctx,
		"SELECT "+targetColumns+" FROM output_targets WHERE recording_id IN ("+makePlaceholders(len(ids))+") ORDER BY recording_id, position, target_type",
		ids...)
	if err != nil {
		return fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		id, target, err := scanTarget(rows)
		if err != nil {
			return err
		}
		if rec := byID[id]; rec != nil {
			rec.Targets = append(rec.Targets, target)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate targets: %w", err)
	}
	return nil
}

func getRecording(ctx context.Context, q querier, id string) (*recording.Recording, error) {
	row := q.QueryRowContext(ctx, "SELECT "+recordingColumns+" FROM recordings WHERE id = ?", id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %s: %w", id, err)
	}
	if err := loadChildren(ctx, q, []*recording.Recording{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

func insertRecording(ctx context.Context, q querier, rec *recording.Recording) error {
	overrides, err := encodeOverrides(rec.Overrides)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO recordings ("+recordingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID,
		rec.Title,
		string(rec.Status),
		boolToInt(rec.Failed),
		nullableString(rec.FailedAtStage),
		nullableString(rec.FailedReason),
		boolToInt(rec.Deleted),
		boolToInt(rec.Mapped),
		nullableString(rec.Preset),
		nullableString(rec.Template),
		overrides,
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		formatTime(rec.StatusChangedAt),
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return saveChildren(ctx, q, rec)
}

func updateRecording(ctx context.Context, q querier, rec *recording.Recording) error {
	overrides, err := encodeOverrides(rec.Overrides)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE recordings
        SET title = ?, status = ?, failed = ?, failed_at_stage = ?, failed_reason = ?,
            deleted = ?, mapped = ?, preset = ?, template = ?, overrides_json = ?,
            updated_at = ?, status_changed_at = ?
        WHERE id = ?`,
		rec.Title,
		string(rec.Status),
		boolToInt(rec.Failed),
		nullableString(rec.FailedAtStage),
		nullableString(rec.FailedReason),
		boolToInt(rec.Deleted),
		boolToInt(rec.Mapped),
		nullableString(rec.Preset),
		nullableString(rec.Template),
		overrides,
		formatTime(rec.UpdatedAt),
		formatTime(rec.StatusChangedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	return saveChildren(ctx, q, rec)
}

func saveChildren(ctx context.Context, q querier, rec *recording.Recording) error {
	for i, stage := range rec.Stages {
		meta, err := encodeMeta(stage.Meta)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `INSERT INTO processing_stages
            (recording_id, stage_type, position, status, meta_json, failed_reason, started_at, completed_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(recording_id, stage_type) DO UPDATE SET
                position = excluded.position,
                status = excluded.status,
                meta_json = excluded.meta_json,
                failed_reason = excluded.failed_reason,
                started_at = excluded.started_at,
                completed_at = excluded.completed_at,
                updated_at = excluded.updated_at`,
			rec.ID,
			string(stage.Type),
			i,
			string(stage.Status),
			meta,
			nullableString(stage.FailedReason),
			nullableTime(stage.StartedAt),
			nullableTime(stage.CompletedAt),
			formatTime(stage.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("save stage %s: %w", stage.Type, err)
		}
	}
	for i, target := range rec.Targets {
		meta, err := encodeMeta(target.Meta)
		if err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `INSERT INTO output_targets
            (recording_id, target_type, position, status, meta_json, failed_reason, started_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(recording_id, target_type) DO UPDATE SET
                position = excluded.position,
                status = excluded.status,
                meta_json = excluded.meta_json,
                failed_reason = excluded.failed_reason,
                started_at = excluded.started_at,
                updated_at = excluded.updated_at`,
			rec.ID,
			string(target.Type),
			i,
			string(target.Status),
			meta,
			nullableString(target.FailedReason),
			nullableTime(target.StartedAt),
			formatTime(target.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("save target %s: %w", target.Type, err)
		}
	}
	return nil
}

// Create inserts a new recording together with any stages and targets it already carries.
func (s *Store) Create(ctx context.Context, rec *recording.Recording) error {
	ctx = ensureContext(ctx)
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return services.Wrap(services.ErrValidation, "store", "create", "recording id is required", nil)
	}
	if _, ok := recording.ParseStatus(string(rec.Status)); !ok {
		return services.Wrap(services.ErrValidation, "store", "create", fmt.Sprintf("unknown status %q", rec.Status), nil)
	}
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := insertRecording(ctx, tx, rec); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return services.Wrap(services.ErrConflict, "store", "create", fmt.Sprintf("recording %s already exists", rec.ID), nil)
		}
		return fmt.Errorf("create recording %s: %w", rec.ID, err)
	}
	return nil
}

// Get fetches a recording with its stages and targets. It returns nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*recording.Recording, error) {
	ctx = ensureContext(ctx)
	var rec *recording.Recording
	err := retryOnBusy(ctx, func() error {
		var err error
		rec, err = getRecording(ctx, s.db, id)
		return err
	})
	return rec, err
}

// List returns recordings matching filter, oldest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*recording.Recording, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted = 0")
	}
	if filter.FailedOnly {
		clauses = append(clauses, "failed = 1")
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query := "SELECT " + recordingColumns + " FROM recordings"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var recs []*recording.Recording
	err := retryOnBusy(ctx, func() error {
		recs = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecording(rows)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		return loadChildren(ctx, s.db, recs)
	})
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recs, nil
}

// Delete removes a recording and its children permanently. It reports
// whether a row existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var removed bool
	err := s.withRecordingLock(ctx, id, func() error {
		return retryOnBusy(ctx, func() error {
			res, err := s.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed = affected > 0
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("delete recording %s: %w", id, err)
	}
	s.removeLockFile(id)
	return removed, nil
}
