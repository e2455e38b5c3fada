// Package config loads, normalizes, and validates recflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an adjacent .env file, and honours
// environment fallbacks such as RECFLOW_REDIS_ADDR. Besides the service
// knobs, the file carries the layered processing options consumed by the
// config resolver: [defaults], [presets.<name>] and [templates.<name>].
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
