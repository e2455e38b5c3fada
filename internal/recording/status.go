package recording

// ComputeStatus derives the pipeline status from the stage and target sets.
// It is pure and idempotent; the result depends only on the current records,
// never on the order in which they reached that state.
func ComputeStatus(rec *Recording, stages []ProcessingStage, targets []OutputTarget) Status {
	if rec == nil {
		return ""
	}
	if rec.Deleted || rec.Status.Rank() < StatusDownloaded.Rank() {
		return rec.Status
	}

	if len(stages) > 0 {
		allPending := true
		terminal := true
		for _, stage := range stages {
			switch stage.Status {
			case StageFailed:
				return StatusDownloaded
			case StagePending:
			default:
				allPending = false
			}
			if !stage.Status.Terminal() {
				terminal = false
			}
		}
		if allPending {
			return StatusDownloaded
		}
		if !terminal {
			return StatusProcessing
		}
	}

	if len(targets) == 0 {
		return StatusProcessed
	}
	uploaded := 0
	for _, target := range targets {
		switch target.Status {
		case TargetUploading:
			return StatusUploading
		case TargetUploaded:
			uploaded++
		}
	}
	switch {
	case uploaded == len(targets):
		return StatusReady
	case uploaded > 0:
		return StatusUploaded
	default:
		return StatusProcessed
	}
}

// Recompute applies ComputeStatus to rec using its own stages and targets.
func Recompute(rec *Recording) Status {
	return ComputeStatus(rec, rec.Stages, rec.Targets)
}

// Outcome summarizes what a state machine call changed.
type Outcome struct {
	Previous Status
	Status   Status
	Skipped  []StageType
	Stale    bool
}

// Changed reports whether the recording status moved.
func (o Outcome) Changed() bool {
	return o.Previous != o.Status
}
