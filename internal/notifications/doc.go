// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. Run
// summaries and failure alerts can be switched off independently; events
// without a formatter are dropped silently.
package notifications
