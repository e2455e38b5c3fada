package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"recflow/internal/logging"
	"recflow/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		raw       bool
		filter    logs.Filter
		recording string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the decision log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter.RecordingID = strings.TrimSpace(recording)
			path := logging.FilePath(cfg)
			out := cmd.OutOrStdout()

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			printLogLines(out, filter.Apply(result.Lines), raw)
			for follow {
				result, err = logs.Tail(cmd.Context(), path, logs.TailOptions{
					Offset: result.Offset,
					Follow: true,
					Wait:   5 * time.Second,
				})
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				printLogLines(out, filter.Apply(result.Lines), raw)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to read")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines unchanged")
	cmd.Flags().StringVarP(&recording, "recording", "r", "", "Only lines for this recording")
	cmd.Flags().StringVar(&filter.CorrelationID, "correlation", "", "Only lines with this correlation id")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&filter.DecisionsOnly, "decisions", false, "Only decision lines")
	return cmd
}

func printLogLines(out io.Writer, lines []string, raw bool) {
	for _, line := range lines {
		if raw {
			fmt.Fprintln(out, line)
			continue
		}
		fmt.Fprintln(out, formatLogLine(line))
	}
}

func formatLogLine(line string) string {
	entry, ok := logs.Parse(line)
	if !ok {
		return line
	}
	parts := []string{entry.Time, strings.ToUpper(orDash(entry.Level)), entry.Message}
	if entry.RecordingID != "" {
		parts = append(parts, "recording="+entry.RecordingID)
	}
	if entry.DecisionType != "" {
		parts = append(parts, entry.DecisionType+"="+orDash(entry.DecisionResult))
	}
	if entry.StatusFrom != "" || entry.StatusTo != "" {
		parts = append(parts, orDash(entry.StatusFrom)+" -> "+orDash(entry.StatusTo))
	}
	if entry.Alert != "" {
		parts = append(parts, "alert="+entry.Alert)
	}
	return strings.Join(parts, "  ")
}
