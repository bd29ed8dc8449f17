// Package llm is a small client for OpenAI-compatible chat completion
// endpoints, OpenRouter by default. The annotate stage sends one prompt per
// transcript through Complete and decodes the reply with DecodeJSON.
//
// Requests are retried on 408, 429 and 5xx replies, on network timeouts and
// on empty replies, doubling from one second up to ten. A Retry-After header
// overrides the computed delay. StatusCode exposes the status of a final
// failure so callers can tell rejected credentials from transient trouble.
package llm
