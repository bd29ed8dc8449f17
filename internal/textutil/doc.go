// Package textutil provides the small text helpers shared by ingestion,
// annotation, and identity resolution: filename cleaning, rune-safe
// truncation, and leading-word extraction.
package textutil
