// Package feed reads the podcast RSS feed into Episode values.
//
// Episode numbers come from a "#123" marker in the title, falling back to the
// itunes:episode element. Descriptions are reduced to plain text and cut to
// the configured length. When enabled, a language hint is detected from the
// title and description.
package feed
