// Package pipeline coordinates a run: it walks items in sequence order,
// drives each through the stage executors, and rebuilds the aggregate index
// at the end.
//
// Work is strictly sequential. For each stage the artifact cache decides
// whether the executor runs at all (see stageexec), so repeating a run over an
// unchanged item set performs no remote work. A stage failure stops that item
// only; the run moves on to the next item after the configured delay. The
// ledger run record is closed even when the context is cancelled, and an
// interrupted run is marked aborted.
package pipeline
