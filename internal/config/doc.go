// Package config loads, normalizes, and validates studyreel configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as LLM_API_KEY and ELEVENLABS_API_KEY. The
// Config type centralizes every knob the daemon and CLI need: storage
// layout, provider credentials, worker timing, admission ceilings, and
// retention windows.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
