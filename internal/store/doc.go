// Package store persists recordings, their processing stages and output
// targets in SQLite.
//
// Every state change goes through Mutate, which serializes writers for one
// recording with an in-process keyed mutex plus an advisory file lock, then
// reads, transforms and writes the aggregate inside a single immediate
// transaction. Different recordings never contend on the same lock.
package store
