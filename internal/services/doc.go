// Package services defines shared utilities consumed by the stage executors
// and external integrations.
//
// Key responsibilities:
//   - Context tags for the item, stage and run a log line belongs to.
//   - Structured error markers plus the Wrap helper. Kind turns a wrapped
//     error into the label recorded on failed ledger rows, which decides
//     whether a later run can be expected to succeed on its own.
//
// Use these helpers when wiring new stage logic so failures are classified
// the same way across the pipeline.
package services
