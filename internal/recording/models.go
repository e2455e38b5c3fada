package recording

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a recording.
type Status string

const (
	StatusInitialized   Status = "initialized"
	StatusDownloading   Status = "downloading"
	StatusDownloaded    Status = "downloaded"
	StatusProcessing    Status = "processing"
	StatusProcessed     Status = "processed"
	StatusUploading     Status = "uploading"
	StatusUploaded      Status = "uploaded"
	StatusReady         Status = "ready"
	StatusSkipped       Status = "skipped"
	StatusPendingSource Status = "pending_source"
	StatusExpired       Status = "expired"
)

// pipelineStatuses lists the rollforward order. Off-pipeline states are not ranked.
var pipelineStatuses = []Status{
	StatusInitialized,
	StatusDownloading,
	StatusDownloaded,
	StatusProcessing,
	StatusProcessed,
	StatusUploading,
	StatusUploaded,
	StatusReady,
}

var allStatuses = append(append([]Status{}, pipelineStatuses...),
	StatusSkipped,
	StatusPendingSource,
	StatusExpired,
)

var statusRank = func() map[Status]int {
	ranks := make(map[Status]int, len(pipelineStatuses))
	for i, status := range pipelineStatuses {
		ranks[status] = i
	}
	return ranks
}()

// Rank returns the rollforward position of a pipeline status, or -1 for
// off-pipeline states (skipped, pending_source, expired) and unknown values.
func (s Status) Rank() int {
	if rank, ok := statusRank[s]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether s is a pipeline status at or beyond other.
func (s Status) AtLeast(other Status) bool {
	rank := s.Rank()
	return rank >= 0 && rank >= other.Rank()
}

// AllStatuses returns every known status, pipeline states first.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// StageType names one unit of pipeline work. The set is open: any type
// declared in a Graph is valid.
type StageType string

const (
	StageTrim              StageType = "trim"
	StageTranscribe        StageType = "transcribe"
	StageExtractTopics     StageType = "extract_topics"
	StageGenerateSubtitles StageType = "generate_subtitles"
)

// StageStatus is the state of one ProcessingStage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// Terminal reports whether the stage no longer blocks the pipeline.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageSkipped
}

// TargetType identifies a destination platform.
type TargetType string

// TargetStatus is the state of one OutputTarget.
type TargetStatus string

const (
	TargetNotUploaded TargetStatus = "not_uploaded"
	TargetUploading   TargetStatus = "uploading"
	TargetUploaded    TargetStatus = "uploaded"
	TargetFailed      TargetStatus = "failed"
)

// Stage meta keys and values written by the failure handler.
const (
	MetaSkipReason  = "skip_reason"
	MetaParentStage = "parent_stage"

	SkipReasonError        = "error"
	SkipReasonParentFailed = "parent_failed"
)

// Operation labels recorded in FailedAtStage for non-stage work.
const (
	OperationDownload = "download"
	uploadPrefix      = "upload:"
)

// UploadOperation returns the FailedAtStage label for an upload to target.
func UploadOperation(target TargetType) string {
	return uploadPrefix + string(target)
}

// ProcessingStage is one unit of pipeline work owned by a Recording.
type ProcessingStage struct {
	Type         StageType
	Status       StageStatus
	Meta         map[string]string
	FailedReason string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// SkipReason returns the recorded skip_reason, if any.
func (s ProcessingStage) SkipReason() string {
	return s.Meta[MetaSkipReason]
}

// OutputTarget is one upload destination owned by a Recording.
type OutputTarget struct {
	Type         TargetType
	Status       TargetStatus
	FailedReason string
	Meta         map[string]string
	StartedAt    *time.Time
	UpdatedAt    time.Time
}

// Recording is the aggregate root. Stages and targets live and die with it.
type Recording struct {
	ID              string
	Title           string
	Status          Status
	Failed          bool
	FailedAtStage   string
	FailedReason    string
	Deleted         bool
	Mapped          bool
	Preset          string
	Template        string
	Overrides       map[string]any
	Stages          []ProcessingStage
	Targets         []OutputTarget
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time
}

// FailureDetail describes the most recent failure of a recording.
type FailureDetail struct {
	Stage  string
	Reason string
}

// New returns a recording in the initialized state.
func New(id, title string, mapped bool) *Recording {
	now := time.Now().UTC()
	return &Recording{
		ID:              id,
		Title:           strings.TrimSpace(title),
		Status:          StatusInitialized,
		Mapped:          mapped,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusChangedAt: now,
	}
}

// Failure returns the failure detail when the failed flag is set.
func (r *Recording) Failure() (FailureDetail, bool) {
	if r == nil || !r.Failed {
		return FailureDetail{}, false
	}
	return FailureDetail{Stage: r.FailedAtStage, Reason: r.FailedReason}, true
}

// Stage returns the stage record of the given type.
func (r *Recording) Stage(t StageType) (*ProcessingStage, bool) {
	for i := range r.Stages {
		if r.Stages[i].Type == t {
			return &r.Stages[i], true
		}
	}
	return nil, false
}

// Target returns the target record of the given type.
func (r *Recording) Target(t TargetType) (*OutputTarget, bool) {
	for i := range r.Targets {
		if r.Targets[i].Type == t {
			return &r.Targets[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Overrides = cloneTree(r.Overrides)
	cp.Stages = make([]ProcessingStage, len(r.Stages))
	for i, stage := range r.Stages {
		stage.Meta = cloneMeta(stage.Meta)
		stage.StartedAt = cloneTime(stage.StartedAt)
		stage.CompletedAt = cloneTime(stage.CompletedAt)
		cp.Stages[i] = stage
	}
	cp.Targets = make([]OutputTarget, len(r.Targets))
	for i, target := range r.Targets {
		target.Meta = cloneMeta(target.Meta)
		target.StartedAt = cloneTime(target.StartedAt)
		cp.Targets[i] = target
	}
	return &cp
}

func (r *Recording) ensureStage(graph *Graph, t StageType, now time.Time) *ProcessingStage {
	if stage, ok := r.Stage(t); ok {
		return stage
	}
	r.Stages = append(r.Stages, ProcessingStage{
		Type:      t,
		Status:    StagePending,
		UpdatedAt: now,
	})
	graph.sortStages(r.Stages)
	stage, _ := r.Stage(t)
	return stage
}

func (r *Recording) ensureTarget(t TargetType, now time.Time) *OutputTarget {
	if target, ok := r.Target(t); ok {
		return target
	}
	r.Targets = append(r.Targets, OutputTarget{
		Type:      t,
		Status:    TargetNotUploaded,
		UpdatedAt: now,
	})
	return &r.Targets[len(r.Targets)-1]
}

func (r *Recording) setStatus(status Status, now time.Time) {
	if r.Status != status {
		r.Status = status
		r.StatusChangedAt = now
	}
	r.UpdatedAt = now
}

func (r *Recording) markFailed(label, reason string, now time.Time) {
	r.Failed = true
	r.FailedAtStage = label
	r.FailedReason = strings.TrimSpace(reason)
	r.UpdatedAt = now
}

func (r *Recording) clearFailure(now time.Time) {
	r.Failed = false
	r.FailedAtStage = ""
	r.FailedReason = ""
	r.UpdatedAt = now
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	cp := make(map[string]string, len(meta))
	for k, v := range meta {
		cp[k] = v
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneTree(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	cp := make(map[string]any, len(tree))
	for k, v := range tree {
		if nested, ok := v.(map[string]any); ok {
			cp[k] = cloneTree(nested)
			continue
		}
		cp[k] = v
	}
	return cp
}
