// Package services defines shared utilities consumed by the workflow engine,
// the report intake and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp recording IDs, stage and target names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell
//     retryable failures (transient, conflict) from permanent ones
//     (validation, configuration, not found).
//
// Use these helpers when wiring new entry points so operational behaviour
// (error handling, observability, redelivery) stays uniform.
package services
