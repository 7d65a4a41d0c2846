// Package config loads, normalizes, and validates courier configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours environment fallbacks for the backend endpoints
// (COURIER_RPC_URL, COURIER_EVENTS_URL). Timing knobs are stored in whole
// seconds and exposed as time.Duration through accessor methods so callers
// never multiply by hand.
package config
