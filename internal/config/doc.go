// Package config handles configuration loading for coven-bridge.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by .toml extension) files with
// environment variable expansion. Load applies defaults and validates.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_BRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/bridge.yaml
//  3. ~/.config/coven/bridge.yaml
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${COVEN_BRIDGE_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	service:
//	  init_timeout: "30s"
//	  call_timeout: "60s"
//	bridge:
//	  replay_ttl: "5m"
//
// # Streaming buffers
//
//	bridge:
//	  buffer_updates: true        # keep updates produced before subscribe
//	  max_buffered_updates: 1024  # per call; overflow is dropped
//	  replay_ttl: "5m"            # how long an unclaimed result is kept
//
// # Validation
//
// Load() validates:
//
//   - Server, service and database addresses are present
//   - JWT secret minimum length (32 bytes) when set
//   - Duration format validity
//   - Logging format values
package config
