package recording

// IsReadyToUpload is the platform-agnostic readiness signal: status at least
// downloaded, every existing stage completed, not failed, not deleted.
func IsReadyToUpload(rec *Recording) bool {
	if rec == nil || rec.Deleted || rec.Failed {
		return false
	}
	if !rec.Status.AtLeast(StatusDownloaded) {
		return false
	}
	for _, stage := range rec.Stages {
		if stage.Status != StageCompleted {
			return false
		}
	}
	return true
}

// IsUploadAllowed is the per-platform eligibility check. It requires a
// pipeline status from downloaded onward and a target that is absent,
// not_uploaded or failed.
func IsUploadAllowed(rec *Recording, target TargetType) bool {
	if rec == nil || rec.Deleted || target == "" {
		return false
	}
	if !rec.Status.AtLeast(StatusDownloaded) {
		return false
	}
	existing, ok := rec.Target(target)
	if !ok {
		return true
	}
	return existing.Status == TargetNotUploaded || existing.Status == TargetFailed
}
