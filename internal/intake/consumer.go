package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"recflow/internal/config"
	"recflow/internal/logging"
	"recflow/internal/recording"
	"recflow/internal/services"
	"recflow/internal/workflow"
)

// Reporter applies outcome reports. *workflow.Engine satisfies it.
type Reporter interface {
	ReportDownloadOutcome(ctx context.Context, id string, outcome workflow.Outcome) (workflow.Decision, error)
	ReportStageOutcome(ctx context.Context, id string, stage recording.StageType, outcome workflow.Outcome) (workflow.Decision, error)
	ReportUploadOutcome(ctx context.Context, id string, target recording.TargetType, outcome workflow.Outcome) (workflow.Decision, error)
}

// Disposition records what happened to one popped entry.
type Disposition string

const (
	DispositionApplied    Disposition = "applied"
	DispositionRequeued   Disposition = "requeued"
	DispositionDeadLetter Disposition = "dead_letter"
	DispositionIdle       Disposition = "idle"
)

const dequeueErrorBackoff = 5 * time.Second

// Consumer drains the report list into a Reporter.
type Consumer struct {
	client        ListClient
	reporter      Reporter
	logger        *slog.Logger
	reportKey     string
	deadLetterKey string
	blockTimeout  time.Duration
	maxAttempts   int
	requeueDelay  time.Duration
}

// NewConsumer builds a consumer from the [redis] config section.
func NewConsumer(cfg *config.Config, client ListClient, reporter Reporter, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = logging.NewNop()
	}
	maxAttempts := cfg.Redis.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Consumer{
		client:        client,
		reporter:      reporter,
		logger:        logging.NewComponentLogger(logger, "intake"),
		reportKey:     cfg.Redis.ReportKey,
		deadLetterKey: cfg.Redis.DeadLetterKey,
		blockTimeout:  cfg.RedisBlockTimeout(),
		maxAttempts:   maxAttempts,
		requeueDelay:  cfg.RedisRequeueDelay(),
	}
}

// Run processes reports until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("report intake started",
		logging.String("report_key", c.reportKey),
		logging.String("dead_letter_key", c.deadLetterKey),
	)
	for {
		if ctx.Err() != nil {
			c.logger.Info("report intake stopping")
			return nil
		}
		if _, err := c.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("report intake stopping")
				return nil
			}
			logging.WarnWithContext(c.logger, "report intake error", "intake_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "reports wait in redis until the connection recovers"),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
			)
			if !sleepCtx(ctx, dequeueErrorBackoff) {
				return nil
			}
		}
	}
}

// ProcessOne pops at most one report and applies it. An error means the
// list could not be read or written; report failures are expressed through
// the returned disposition.
func (c *Consumer) ProcessOne(ctx context.Context) (Disposition, error) {
	result, err := c.client.BLPop(ctx, c.blockTimeout, c.reportKey).Result()
	if errors.Is(err, redis.Nil) {
		return DispositionIdle, nil
	}
	if err != nil {
		return DispositionIdle, fmt.Errorf("blpop %s: %w", c.reportKey, err)
	}
	if len(result) < 2 {
		return DispositionIdle, nil
	}
	raw := []byte(result[1])

	report, err := Decode(raw)
	if err != nil {
		return DispositionDeadLetter, c.deadLetter(ctx, raw, err)
	}
	ctx = services.WithRequestID(ctx, report.ID)
	logger := c.logger.With(
		logging.String("report_id", report.ID),
		logging.String(logging.FieldRecordingID, report.RecordingID),
		logging.String("kind", string(report.Kind)),
		logging.Int("attempt", report.Attempt),
	)

	decision, err := c.dispatch(ctx, report)
	if err == nil {
		logger.Debug("report applied",
			logging.String("status", string(decision.View.Status)),
			logging.Bool("stale", decision.Stale),
		)
		return DispositionApplied, nil
	}
	if !services.IsRetryable(err) || report.Attempt+1 >= c.maxAttempts {
		return DispositionDeadLetter, c.deadLetter(ctx, raw, err)
	}
	logger.Info("report requeued", logging.Error(err))
	return DispositionRequeued, c.requeue(ctx, report)
}

func (c *Consumer) dispatch(ctx context.Context, report Report) (workflow.Decision, error) {
	outcome := report.EngineOutcome()
	switch report.Kind {
	case KindDownload:
		return c.reporter.ReportDownloadOutcome(ctx, report.RecordingID, outcome)
	case KindStage:
		return c.reporter.ReportStageOutcome(ctx, report.RecordingID, report.StageType(), outcome)
	case KindUpload:
		return c.reporter.ReportUploadOutcome(ctx, report.RecordingID, report.TargetType(), outcome)
	default:
		return workflow.Decision{}, services.Wrap(services.ErrValidation, "intake", "dispatch", fmt.Sprintf("unknown report kind %q", report.Kind), nil)
	}
}

func (c *Consumer) requeue(ctx context.Context, report Report) error {
	report.Attempt++
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if !sleepCtx(ctx, c.requeueDelay) {
		// Put it back so a restart picks it up.
		ctx = context.WithoutCancel(ctx)
	}
	if err := c.client.RPush(ctx, c.reportKey, raw).Err(); err != nil {
		return fmt.Errorf("requeue report %s: %w", report.ID, err)
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, raw []byte, cause error) error {
	payload := json.RawMessage(raw)
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		payload = quoted
	}
	entry, err := json.Marshal(DeadLetter{
		Payload:  payload,
		Error:    cause.Error(),
		Kind:     services.Kind(cause),
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := c.client.RPush(ctx, c.deadLetterKey, entry).Err(); err != nil {
		return fmt.Errorf("dead-letter push: %w", err)
	}
	logging.WarnWithContext(c.logger, "report moved to dead-letter list", "report_dead_letter",
		logging.Error(cause),
		logging.String("error_kind", services.Kind(cause)),
		logging.String(logging.FieldImpact, "report was not applied"),
		logging.String(logging.FieldErrorHint, "inspect "+c.deadLetterKey+" and resend once fixed"),
	)
	return nil
}

// Publish pushes a report onto the report list.
func Publish(ctx context.Context, client ListClient, key string, report Report) error {
	if err := report.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
