// Package config loads, normalizes, and validates snapkeep configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SNAPKEEP_REMOTE_HOST and SNAPKEEP_REMOTE_PASSWORD. Schedule entries are
// checked eagerly: an unknown event name or handler name fails the load rather
// than surfacing at the first tick.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical handler names, and clear validation errors.
package config
