// Package logging assembles structured slog loggers and formatting helpers used
// across recflow.
//
// It owns the console and JSON handlers, rotates file output through
// lumberjack, and exposes context-aware helpers so engine code can tag log
// lines with recording IDs, stages, targets and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
