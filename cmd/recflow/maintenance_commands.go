package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"recflow/internal/workflow"
)

func newStuckCommand(ctx *commandContext) *cobra.Command {
	var (
		olderThan time.Duration
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List downloads, stages and uploads in progress for too long",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				entries, err := engine.StaleWork(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				if asJSON {
					type entryJSON struct {
						RecordingID string `json:"recording_id"`
						Kind        string `json:"kind"`
						Name        string `json:"name"`
						Since       string `json:"since"`
						AgeSeconds  int64  `json:"age_seconds"`
					}
					out := make([]entryJSON, 0, len(entries))
					for _, entry := range entries {
						out = append(out, entryJSON{
							RecordingID: entry.RecordingID,
							Kind:        string(entry.Kind),
							Name:        entry.Name,
							Since:       formatTimestamp(entry.Since),
							AgeSeconds:  int64(entry.Age(now).Seconds()),
						})
					}
					return writeJSON(cmd, out)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stuck work")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						entry.RecordingID,
						string(entry.Kind),
						displayLabel(entry.Name),
						formatTimestamp(entry.Since),
						entry.Age(now).Truncate(time.Second).String(),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Recording", "Kind", "Work", "Since", "Age"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (defaults to workflow.heartbeat_timeout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the recording database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				health, err := engine.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Database", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Readable", boolKind(health.DatabaseReadable), yesNo(health.DatabaseReadable), colorize))
				fmt.Fprintln(out, renderStatusLine("Schema version", statusInfo, strconv.Itoa(health.SchemaVersion), colorize))
				tables := "all present"
				if len(health.MissingTables) > 0 {
					tables = "missing " + strings.Join(health.MissingTables, ", ")
				}
				fmt.Fprintln(out, renderStatusLine("Tables", boolKind(len(health.MissingTables) == 0), tables, colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity", boolKind(health.IntegrityCheck), yesNo(health.IntegrityCheck), colorize))
				fmt.Fprintln(out, renderStatusLine("Recordings", statusInfo, strconv.Itoa(health.Recordings), colorize))
				if health.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, health.Error, colorize))
					return fmt.Errorf("database unhealthy: %s", health.Error)
				}
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
