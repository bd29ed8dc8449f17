// Package logging assembles structured slog loggers and formatting helpers used
// across castindex.
//
// It owns the console and JSON handlers, mirrors console output into a JSON
// log file under the configured log directory, and exposes context-aware
// helpers so stage code automatically tags lines with item IDs, stages, and
// run IDs. NewNop provides a discard logger for tests and wiring code.
package logging
