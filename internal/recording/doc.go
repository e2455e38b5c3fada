// Package recording holds the recording aggregate and the pure state machine
// that moves it through download, processing and upload.
//
// Every function in this package mutates the aggregate in memory only.
// Persistence, locking and config resolution belong to the callers
// (internal/store and internal/workflow). Failure reports never return an
// error: they always leave the recording in a definite post-failure state.
package recording
