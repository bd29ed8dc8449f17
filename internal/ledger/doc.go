// Package ledger records per-item stage progress in SQLite.
//
// Each (item, stage) pair has one record moving through pending, running,
// done and failed; every transition also appends to an event log. Beginning a
// run moves failed and interrupted records back to pending. The ledger is an
// audit trail and a fast path for status reporting: artifact existence remains
// the authority on whether a stage must run again. Export and Import exchange
// the whole ledger as indented JSON for inspection and hand recovery.
package ledger
