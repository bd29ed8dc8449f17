// Package config loads, normalizes, and validates castindex configuration.
//
// It supplies repository defaults, derives per-stage artifact directories
// from paths.data_dir, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks such as OPENROUTER_API_KEY
// and GOOGLE_APPLICATION_CREDENTIALS. The resulting Config is passed
// explicitly to every executor and to the orchestrator.
//
// Checks that depend on which stages run (backend pairing, LLM credentials)
// live in ValidateBackends so ingestion works without them.
package config
