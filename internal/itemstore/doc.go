// Package itemstore persists the item metadata produced by ingestion and read
// by every pipeline stage.
//
// The store is a single JSON array (episodes_metadata.json by default) kept in
// sequence order. Items are identified by a stable ID derived from the feed
// episode number, falling back to the feed position, and carry an artifact
// stem that starts with that ID so every produced file names its item.
// Metadata is immutable after ingestion except for the local raw file path.
package itemstore
