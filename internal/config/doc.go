// Package config loads, normalizes, and validates waitline configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// WAITLINE_DATABASE_URL and WAITLINE_API_TOKEN. The Config type centralizes
// every knob the daemon and CLI need so the store backend, roster file, and
// API endpoint are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical driver names, and clear validation errors.
package config
