// Package config handles configuration loading for sora-fleet.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; a missing file means
// running entirely on defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SORA_FLEET_CONFIG environment variable
//  2. ~/.config/sora-fleet/config.yaml (XDG_CONFIG_HOME respected)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  base_url: "${SORA_SERVER_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	fleet:
//	  base_interval: "1s"
//	  tick: "50ms"
//	  connect_stagger: "10ms"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Remote service:
//
//	server:
//	  base_url: "https://server.escaping.work"
//	  register_path: "/register"
//
// Fleet scheduling:
//
//	fleet:
//	  count: 50            # identities / agents
//	  stop_on_first: true  # halt the fleet on the first discovery
//	  workers: 50          # connect/poll worker pool size
//	  base_interval: "1s"
//	  tick: "50ms"         # poll-loop latency bound; trades responsiveness for CPU
//	  connect_stagger: "10ms"
//	  settle_delay: "1s"
//	  drain_timeout: "5s"
//
// Identity provisioning:
//
//	provisioning:
//	  workers: 50
//	  retry_interval: "1s"
//	  request_timeout: "15s"
//
// Persistence:
//
//	storage:
//	  identity_cache: "user_ids.json"
//	  discovery_log: "codes.txt"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
