// Package logs reads the recflow JSON log file for the CLI.
//
// Tail streams the last N lines or everything after a byte offset, and can
// poll for new lines in follow mode. Filter narrows structured lines to one
// recording, one correlation id or a minimum level so an operator can replay
// the decisions made for a single recording.
package logs
