package recording

import "errors"

var (
	// ErrUnknownStage indicates a stage type outside the dependency graph.
	ErrUnknownStage = errors.New("unknown stage type")
	// ErrDependencyUnmet indicates a stage was started or completed before its parents.
	ErrDependencyUnmet = errors.New("stage dependencies not met")
	// ErrUploadNotAllowed indicates an upload was requested outside the allowed window.
	ErrUploadNotAllowed = errors.New("upload not allowed")
	// ErrInvalidTransition indicates the recording is not in a state that accepts the event.
	ErrInvalidTransition = errors.New("invalid transition")
)
