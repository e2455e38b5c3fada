package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"recflow/internal/intake"
	"recflow/internal/recording"
	"recflow/internal/workflow"
)

// subject describes one kind of work a command acts on. name is the stage or
// target argument and is empty for downloads.
type subject struct {
	kind  intake.Kind
	use   string
	short string
	args  int
}

var subjects = []subject{
	{kind: intake.KindDownload, use: "download <id>", short: "the source download", args: 1},
	{kind: intake.KindStage, use: "stage <id> <stage>", short: "a processing stage", args: 2},
	{kind: intake.KindUpload, use: "upload <id> <target>", short: "an upload target", args: 2},
}

func subjectName(s subject, args []string) string {
	if s.args < 2 {
		return ""
	}
	return strings.TrimSpace(args[1])
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Record that work has started",
	}
	for _, s := range subjects {
		s := s
		var asJSON bool
		sub := &cobra.Command{
			Use:   s.use,
			Short: "Mark " + s.short + " in progress",
			Args:  cobra.ExactArgs(s.args),
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withEngine(func(engine *workflow.Engine) error {
					decision, err := startWork(cmd.Context(), engine, s.kind, args[0], subjectName(s, args))
					if err != nil {
						return err
					}
					return emitDecision(cmd, decision, asJSON)
				})
			},
		}
		sub.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
		cmd.AddCommand(sub)
	}
	return cmd
}

func startWork(ctx context.Context, engine *workflow.Engine, kind intake.Kind, id, name string) (workflow.Decision, error) {
	switch kind {
	case intake.KindStage:
		return engine.StartStage(ctx, id, recording.StageType(name))
	case intake.KindUpload:
		return engine.StartUpload(ctx, id, recording.TargetType(name))
	default:
		return engine.StartDownload(ctx, id)
	}
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report the outcome of finished work",
	}
	for _, s := range subjects {
		s := s
		var (
			reason   string
			meta     map[string]string
			viaRedis bool
			asJSON   bool
		)
		sub := &cobra.Command{
			Use:   s.use + " <success|failure>",
			Short: "Report the outcome of " + s.short,
			Args:  cobra.ExactArgs(s.args + 1),
			RunE: func(cmd *cobra.Command, args []string) error {
				result, ok := workflow.ParseResult(args[len(args)-1])
				if !ok {
					return fmt.Errorf("outcome must be success or failure, got %q", args[len(args)-1])
				}
				outcome := workflow.Outcome{Result: result, Reason: reason, Meta: meta}
				name := subjectName(s, args)
				if viaRedis {
					return publishReport(cmd, ctx, intake.NewReport(args[0], s.kind, name, outcome))
				}
				return ctx.withEngine(func(engine *workflow.Engine) error {
					decision, err := reportWork(cmd.Context(), engine, s.kind, args[0], name, outcome)
					if err != nil {
						return err
					}
					return emitDecision(cmd, decision, asJSON)
				})
			},
		}
		sub.Flags().StringVar(&reason, "reason", "", "Failure reason")
		sub.Flags().StringToStringVar(&meta, "meta", nil, "Outcome metadata as key=value")
		sub.Flags().BoolVar(&viaRedis, "via-redis", false, "Queue the report for the serve process instead of applying it")
		sub.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
		cmd.AddCommand(sub)
	}
	return cmd
}

func reportWork(ctx context.Context, engine *workflow.Engine, kind intake.Kind, id, name string, outcome workflow.Outcome) (workflow.Decision, error) {
	switch kind {
	case intake.KindStage:
		return engine.ReportStageOutcome(ctx, id, recording.StageType(name), outcome)
	case intake.KindUpload:
		return engine.ReportUploadOutcome(ctx, id, recording.TargetType(name), outcome)
	default:
		return engine.ReportDownloadOutcome(ctx, id, outcome)
	}
}

func publishReport(cmd *cobra.Command, ctx *commandContext, report intake.Report) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	client, err := intake.NewRedisClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := intake.Publish(cmd.Context(), client, cfg.Redis.ReportKey, report); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report %s queued on %s\n", report.ID, cfg.Redis.ReportKey)
	return nil
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reset failed work so it runs again",
	}
	for _, s := range subjects {
		s := s
		var asJSON bool
		sub := &cobra.Command{
			Use:   s.use,
			Short: "Retry " + s.short,
			Args:  cobra.ExactArgs(s.args),
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withEngine(func(engine *workflow.Engine) error {
					decision, err := retryWork(cmd.Context(), engine, s.kind, args[0], subjectName(s, args))
					if err != nil {
						return err
					}
					return emitDecision(cmd, decision, asJSON)
				})
			},
		}
		sub.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
		cmd.AddCommand(sub)
	}
	return cmd
}

func retryWork(ctx context.Context, engine *workflow.Engine, kind intake.Kind, id, name string) (workflow.Decision, error) {
	switch kind {
	case intake.KindStage:
		return engine.RetryStage(ctx, id, recording.StageType(name))
	case intake.KindUpload:
		return engine.RetryUpload(ctx, id, recording.TargetType(name))
	default:
		return engine.RetryDownload(ctx, id)
	}
}

func newReenableCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reenable <id> <parent-stage>",
		Short: "Re-enable stages skipped because parent-stage failed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(engine *workflow.Engine) error {
				decision, err := engine.ReenableDependents(cmd.Context(), args[0], recording.StageType(args[1]))
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
