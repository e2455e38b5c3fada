// Package daemon coordinates the long-running recflow process.
//
// It wires the workflow engine, the Redis report intake and the stale-work
// watchdog into a single lifecycle, with flock-based locking so only one
// serve process drains the report list at a time.
//
// Keep orchestration here: decisions belong to the workflow package and
// transport details to intake.
package daemon
