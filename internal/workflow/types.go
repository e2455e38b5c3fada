package workflow

import (
	"strings"
	"time"

	"recflow/internal/recording"
)

// Result is the verdict carried by an outcome report.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// ParseResult converts user or wire input into a Result.
func ParseResult(value string) (Result, bool) {
	switch Result(strings.ToLower(strings.TrimSpace(value))) {
	case ResultSuccess:
		return ResultSuccess, true
	case ResultFailure:
		return ResultFailure, true
	default:
		return "", false
	}
}

// Outcome is a completion report for a download, stage or upload.
type Outcome struct {
	Result Result
	Reason string
	Meta   map[string]string
}

// Success builds a successful outcome with optional metadata.
func Success(meta map[string]string) Outcome {
	return Outcome{Result: ResultSuccess, Meta: meta}
}

// Failure builds a failed outcome.
func Failure(reason string) Outcome {
	return Outcome{Result: ResultFailure, Reason: reason}
}

// StatusView is the externally visible state of a recording.
type StatusView struct {
	ID              string
	Title           string
	Status          recording.Status
	Failed          bool
	FailedAtStage   string
	FailedReason    string
	Deleted         bool
	Mapped          bool
	StatusChangedAt time.Time
	UpdatedAt       time.Time
}

func viewOf(rec *recording.Recording) StatusView {
	if rec == nil {
		return StatusView{}
	}
	return StatusView{
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

// Decision describes the effect of one engine call on a recording.
type Decision struct {
	CorrelationID string
	View          StatusView
	Previous      recording.Status
	Skipped       []recording.StageType
	Reenabled     []recording.StageType
	// Stale is set when the call arrived after the work it describes was
	// already settled; nothing changed.
	Stale bool
	// Retried and Note are filled by retry calls. Note explains a retry that
	// had nothing to do.
	Retried bool
	Note    string
}

// Changed reports whether the recording status moved.
func (d Decision) Changed() bool {
	return d.Previous != d.View.Status
}

// NewRecording describes a recording to register.
type NewRecording struct {
	ID        string
	Title     string
	Mapped    bool
	Preset    string
	Template  string
	Overrides map[string]any
}
