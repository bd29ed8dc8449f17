// Package ingest selects a window of the podcast feed, downloads raw audio
// into the episodes directory, and merges the episodes into the item store.
//
// The default window is the newest episodes; batch mode pages further back
// through the feed. Items are identified by episode number, or by feed
// position when the feed has none, so re-ingesting an overlapping window
// never duplicates items.
package ingest
