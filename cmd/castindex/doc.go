// Package main hosts the castindex CLI entrypoint and command graph.
//
// The Cobra command tree covers feed ingestion, resumable pipeline runs,
// index rebuilding, ledger inspection and repair, health checks, and
// scheduled operation. It centralizes configuration resolution, logger
// construction, and backend selection so subcommands only deal with output.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through dedicated commands or flags here.
package main
