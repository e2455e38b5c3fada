package intake

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recflow/internal/recording"
	"recflow/internal/services"
	"recflow/internal/workflow"
)

// Kind says which kind of work a report describes.
type Kind string

const (
	KindDownload Kind = "download"
	KindStage    Kind = "stage"
	KindUpload   Kind = "upload"
)

// Report is the wire envelope workers push onto the report list.
type Report struct {
	ID          string            `json:"id"`
	RecordingID string            `json:"recording_id"`
	Kind        Kind              `json:"kind"`
	Stage       string            `json:"stage,omitempty"`
	Target      string            `json:"target,omitempty"`
	Outcome     string            `json:"outcome"`
	Reason      string            `json:"reason,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Attempt     int               `json:"attempt"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DeadLetter wraps a report that will not be retried.
type DeadLetter struct {
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
	Kind     string          `json:"error_kind"`
	FailedAt time.Time       `json:"failed_at"`
}

// NewReport fills the envelope bookkeeping fields.
func NewReport(recordingID string, kind Kind, name string, outcome workflow.Outcome) Report {
	r := Report{
		ID:          uuid.NewString(),
		RecordingID: recordingID,
		Kind:        kind,
		Outcome:     string(outcome.Result),
		Reason:      outcome.Reason,
		Meta:        outcome.Meta,
		CreatedAt:   time.Now().UTC(),
	}
	switch kind {
	case KindStage:
		r.Stage = name
	case KindUpload:
		r.Target = name
	}
	return r
}

// Decode parses and validates a raw list entry.
func Decode(raw []byte) (Report, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return Report{}, services.Wrap(services.ErrValidation, "intake", "decode", "malformed report", err)
	}
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Validate checks the fields required by the report kind.
func (r Report) Validate() error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrValidation, "intake", "validate", msg, nil)
	}
	if strings.TrimSpace(r.RecordingID) == "" {
		return fail("recording_id is required")
	}
	if _, ok := workflow.ParseResult(r.Outcome); !ok {
		return fail(fmt.Sprintf("outcome %q must be success or failure", r.Outcome))
	}
	switch r.Kind {
	case KindDownload:
	case KindStage:
		if strings.TrimSpace(r.Stage) == "" {
			return fail("stage is required for stage reports")
		}
	case KindUpload:
		if strings.TrimSpace(r.Target) == "" {
			return fail("target is required for upload reports")
		}
	default:
		return fail(fmt.Sprintf("unknown report kind %q", r.Kind))
	}
	return nil
}

// EngineOutcome converts the envelope into an engine outcome.
func (r Report) EngineOutcome() workflow.Outcome {
	result, _ := workflow.ParseResult(r.Outcome)
	return workflow.Outcome{Result: result, Reason: r.Reason, Meta: r.Meta}
}

// StageType returns the stage named by a stage report.
func (r Report) StageType() recording.StageType {
	return recording.StageType(strings.ToLower(strings.TrimSpace(r.Stage)))
}

// TargetType returns the target named by an upload report.
func (r Report) TargetType() recording.TargetType {
	return recording.TargetType(strings.ToLower(strings.TrimSpace(r.Target)))
}
