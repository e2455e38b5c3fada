package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"recflow/internal/recording"
	"recflow/internal/store"
	"recflow/internal/workflow"
)

func parseOverrides(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	return tree, nil
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		id        string
		unmapped  bool
		preset    string
		template  string
		overrides string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Register a new recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			return ctx.withEngine(func(engine *workflow.Engine) error {
				rec, err := engine.CreateRecording(cmd.Context(), workflow.NewRecording{
					ID:        id,
					Title:     args[0],
					Mapped:    !unmapped,
					Preset:    preset,
					Template:  template,
					Overrides: tree,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, toRecordingJSON(rec))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recording %s registered (%s)\n", rec.ID, rec.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Recording identifier (generated when empty)")
	cmd.Flags().BoolVar(&unmapped, "unmapped", false, "Source not mapped yet; park in pending_source")
	cmd.Flags().StringVar(&preset, "preset", "", "Preset layer name")
	cmd.Flags().StringVar(&template, "template", "", "Template layer name")
	cmd.Flags().StringVar(&overrides, "overrides", "", "Manual override tree as JSON")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		failed   bool
		deleted  bool
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.Filter{FailedOnly: failed, IncludeDeleted: deleted, Limit: limit}
			for _, raw := range statuses {
				status, ok := recording.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withEngine(func(engine *workflow.Engine) error {
				recs, err := engine.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					out := make([]statusJSON, 0, len(recs))
					for _, rec := range recs {
						out = append(out, toStatusJSON(recordingView(rec)))
					}
					return writeJSON(cmd, out)
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No recordings")
					return nil
				}
				rows := make([][]string, 0, len(recs))
				for _, rec := range recs {
					failure := "-"
					if rec.Failed {
						failure = orDash(rec.FailedAtStage)
					}
					rows = append(rows, []string{
						rec.ID,
						orDash(rec.Title),
						string(rec.Status),
						failure,
						yesNo(rec.Deleted),
						formatTimestamp(rec.UpdatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Status", "Failed At", "Deleted", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only recordings in these statuses")
	cmd.Flags().BoolVar(&failed, "failed", false, "Only recordings with the failure flag set")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "Include soft-deleted recordings")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recording with its stages and targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				rec, err := engine.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, toRecordingJSON(rec))
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Recording "+rec.ID, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "Title:    %s\n", orDash(rec.Title))
				fmt.Fprintf(out, "Status:   %s\n", colorStatus(rec.Status, colorize))
				fmt.Fprintf(out, "Mapped:   %s\n", yesNo(rec.Mapped))
				fmt.Fprintf(out, "Deleted:  %s\n", yesNo(rec.Deleted))
				if failure, ok := rec.Failure(); ok {
					fmt.Fprintf(out, "Failed:   %s: %s\n", orDash(failure.Stage), orDash(failure.Reason))
				}
				if rec.Preset != "" || rec.Template != "" {
					fmt.Fprintf(out, "Layers:   preset=%s template=%s\n", orDash(rec.Preset), orDash(rec.Template))
				}
				if len(rec.Stages) > 0 {
					rows := make([][]string, 0, len(rec.Stages))
					for _, stage := range rec.Stages {
						rows = append(rows, []string{
							displayLabel(string(stage.Type)),
							string(stage.Status),
							orDash(stage.FailedReason),
							formatMeta(stage.Meta),
						})
					}
					fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Failure", "Meta"}, rows, nil))
				}
				if len(rec.Targets) > 0 {
					rows := make([][]string, 0, len(rec.Targets))
					for _, target := range rec.Targets {
						rows = append(rows, []string{
							string(target.Type),
							string(target.Status),
							orDash(target.FailedReason),
						})
					}
					fmt.Fprintln(out, renderTable([]string{"Target", "Status", "Failure"}, rows, nil))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Show one recording's status, or counts per status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				if len(args) == 1 {
					view, err := engine.GetStatus(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, toStatusJSON(view))
					}
					printDecision(cmd.OutOrStdout(), workflow.Decision{View: view, Previous: view.Status}, shouldColorize(cmd.OutOrStdout()))
					return nil
				}
				stats, err := engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					out := make(map[string]int, len(stats))
					for status, count := range stats {
						out[string(status)] = count
					}
					return writeJSON(cmd, out)
				}
				statuses := make([]recording.Status, 0, len(stats))
				for status := range stats {
					statuses = append(statuses, status)
				}
				sort.Slice(statuses, func(i, j int) bool {
					return statusOrder(statuses[i]) < statusOrder(statuses[j])
				})
				rows := make([][]string, 0, len(statuses))
				total := 0
				for _, status := range statuses {
					rows = append(rows, []string{string(status), strconv.Itoa(stats[status])})
					total += stats[status]
				}
				rows = append(rows, []string{"total", strconv.Itoa(total)})
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func statusOrder(status recording.Status) int {
	for i, known := range recording.AllStatuses() {
		if known == status {
			return i
		}
	}
	return len(recording.AllStatuses())
}

func newReadyCommand(ctx *commandContext) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "ready <id>",
		Short: "Check whether a recording may be uploaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				var (
					ok  bool
					err error
				)
				label := "Ready to upload"
				if strings.TrimSpace(target) != "" {
					label = "Upload to " + target
					ok, err = engine.IsUploadAllowed(cmd.Context(), args[0], recording.TargetType(target))
				} else {
					ok, err = engine.IsReadyToUpload(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", label, yesNo(ok))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Check a single upload target")
	return cmd
}

func newMapCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "map <id>",
		Short: "Mark the recording's source as mapped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				decision, err := engine.MapSource(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return emitDecision(cmd, decision, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newOverrideCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override <id> <json>",
		Short: "Replace the manual override layer (null clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := parseOverrides(args[1])
			if err != nil {
				return err
			}
			return ctx.withEngine(func(engine *workflow.Engine) error {
				decision, err := engine.SetOverrides(cmd.Context(), args[0], tree)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Overrides updated for %s\n", decision.View.ID)
				return nil
			})
		},
	}
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve <id> <family>",
		Short: "Show the merged options of one stage family",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				resolved, err := engine.Resolve(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{
						"family":        resolved.Family,
						"allow_errors":  resolved.AllowErrors,
						"stage_enabled": resolved.StageEnabled,
						"resolved":      resolved.Resolved,
						"tree":          resolved.Tree,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Family:        %s\n", displayLabel(resolved.Family))
				fmt.Fprintf(out, "Allow errors:  %s\n", yesNo(resolved.AllowErrors))
				fmt.Fprintf(out, "Stage enabled: %s\n", yesNo(resolved.StageEnabled))
				if !resolved.Resolved {
					fmt.Fprintln(out, "  allow_errors not set by any layer; failures block")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a recording (--hard removes it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				if hard {
					if err := engine.Delete(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Recording %s removed\n", args[0])
					return nil
				}
				decision, err := engine.SoftDelete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if decision.Stale {
					fmt.Fprintf(cmd.OutOrStdout(), "Recording %s was already deleted\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recording %s marked deleted\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "Remove the recording with its stages and targets")
	return cmd
}
