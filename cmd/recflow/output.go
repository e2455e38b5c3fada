package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"recflow/internal/recording"
	"recflow/internal/workflow"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type statusJSON struct {
	ID              string `json:"id"`
	Title           string `json:"title,omitempty"`
	Status          string `json:"status"`
	Failed          bool   `json:"failed"`
	FailedAtStage   string `json:"failed_at_stage,omitempty"`
	FailedReason    string `json:"failed_reason,omitempty"`
	Deleted         bool   `json:"deleted"`
	Mapped          bool   `json:"mapped"`
	StatusChangedAt string `json:"status_changed_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type decisionJSON struct {
	CorrelationID string     `json:"correlation_id"`
	Previous      string     `json:"previous_status"`
	Recording     statusJSON `json:"recording"`
	Skipped       []string   `json:"skipped,omitempty"`
	Reenabled     []string   `json:"reenabled,omitempty"`
	Stale         bool       `json:"stale,omitempty"`
	Retried       bool       `json:"retried,omitempty"`
	Note          string     `json:"note,omitempty"`
}

type stageJSON struct {
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	FailedReason string            `json:"failed_reason,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	StartedAt    string            `json:"started_at,omitempty"`
	CompletedAt  string            `json:"completed_at,omitempty"`
}

type targetJSON struct {
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	FailedReason string            `json:"failed_reason,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
	StartedAt    string            `json:"started_at,omitempty"`
}

type recordingJSON struct {
	statusJSON
	Preset    string         `json:"preset,omitempty"`
	Template  string         `json:"template,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
	CreatedAt string         `json:"created_at"`
	Stages    []stageJSON    `json:"stages"`
	Targets   []targetJSON   `json:"targets"`
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTimestamp(*t)
}

func toStatusJSON(view workflow.StatusView) statusJSON {
	return statusJSON{
		ID:              view.ID,
		Title:           view.Title,
		Status:          string(view.Status),
		Failed:          view.Failed,
		FailedAtStage:   view.FailedAtStage,
		FailedReason:    view.FailedReason,
		Deleted:         view.Deleted,
		Mapped:          view.Mapped,
		StatusChangedAt: formatTimestamp(view.StatusChangedAt),
		UpdatedAt:       formatTimestamp(view.UpdatedAt),
	}
}

func recordingView(rec *recording.Recording) workflow.StatusView {
	return workflow.StatusView{
		ID:              rec.ID,
		Title:           rec.Title,
		Status:          rec.Status,
		Failed:          rec.Failed,
		FailedAtStage:   rec.FailedAtStage,
		FailedReason:    rec.FailedReason,
		Deleted:         rec.Deleted,
		Mapped:          rec.Mapped,
		StatusChangedAt: rec.StatusChangedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func toRecordingJSON(rec *recording.Recording) recordingJSON {
	out := recordingJSON{
		statusJSON: toStatusJSON(recordingView(rec)),
		Preset:     rec.Preset,
		Template:   rec.Template,
		Overrides:  rec.Overrides,
		CreatedAt:  formatTimestamp(rec.CreatedAt),
		Stages:     make([]stageJSON, 0, len(rec.Stages)),
		Targets:    make([]targetJSON, 0, len(rec.Targets)),
	}
	for _, stage := range rec.Stages {
		out.Stages = append(out.Stages, stageJSON{
			Type:         string(stage.Type),
			Status:       string(stage.Status),
			FailedReason: stage.FailedReason,
			Meta:         stage.Meta,
			StartedAt:    formatOptional(stage.StartedAt),
			CompletedAt:  formatOptional(stage.CompletedAt),
		})
	}
	for _, target := range rec.Targets {
		out.Targets = append(out.Targets, targetJSON{
			Type:         string(target.Type),
			Status:       string(target.Status),
			FailedReason: target.FailedReason,
			Meta:         target.Meta,
			StartedAt:    formatOptional(target.StartedAt),
		})
	}
	return out
}

func stageNames(stages []recording.StageType) []string {
	if len(stages) == 0 {
		return nil
	}
	out := make([]string, len(stages))
	for i, stage := range stages {
		out[i] = string(stage)
	}
	return out
}

func toDecisionJSON(d workflow.Decision) decisionJSON {
	return decisionJSON{
		CorrelationID: d.CorrelationID,
		Previous:      string(d.Previous),
		Recording:     toStatusJSON(d.View),
		Skipped:       stageNames(d.Skipped),
		Reenabled:     stageNames(d.Reenabled),
		Stale:         d.Stale,
		Retried:       d.Retried,
		Note:          d.Note,
	}
}

// printDecision writes a short human summary of what an engine call did.
func printDecision(out io.Writer, d workflow.Decision, colorize bool) {
	status := colorStatus(d.View.Status, colorize)
	switch {
	case d.Stale:
		fmt.Fprintf(out, "Recording %s: %s (stale report, nothing changed)\n", d.View.ID, status)
	case d.Changed():
		fmt.Fprintf(out, "Recording %s: %s -> %s\n", d.View.ID, d.Previous, status)
	default:
		fmt.Fprintf(out, "Recording %s: %s\n", d.View.ID, status)
	}
	if d.View.Failed {
		fmt.Fprintf(out, "  Failed at %s: %s\n", orDash(d.View.FailedAtStage), orDash(d.View.FailedReason))
	}
	if len(d.Skipped) > 0 {
		fmt.Fprintf(out, "  Skipped: %s\n", strings.Join(stageNames(d.Skipped), ", "))
	}
	if len(d.Reenabled) > 0 {
		fmt.Fprintf(out, "  Re-enabled: %s\n", strings.Join(stageNames(d.Reenabled), ", "))
	}
	if d.Note != "" {
		fmt.Fprintf(out, "  Note: %s\n", d.Note)
	}
}

func emitDecision(cmd *cobra.Command, d workflow.Decision, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, toDecisionJSON(d))
	}
	out := cmd.OutOrStdout()
	printDecision(out, d, shouldColorize(out))
	return nil
}

func sortedMetaKeys(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatMeta(meta map[string]string) string {
	if len(meta) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(meta))
	for _, k := range sortedMetaKeys(meta) {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, " ")
}
