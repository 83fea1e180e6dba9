// Package config loads, normalizes, and validates Atlas configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// ATLAS_DATA_DIR and OPENROUTER_API_KEY. The Config type centralizes every knob
// the catalog, the podcast pipeline, and the cognitive engines need, so a fresh
// install runs without any file present.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
