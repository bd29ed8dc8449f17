// Package preflight provides readiness checks for the external tools, services
// and filesystem paths the pipeline depends on.
//
// These checks run in two contexts:
//   - The run command calls RunAll before processing items and refuses to
//     start when a required check fails.
//   - The health command prints every result as a table.
//
// Each check is gated by its stage toggle -- disabled stages are skipped.
package preflight
