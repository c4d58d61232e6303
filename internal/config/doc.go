// Package config handles configuration loading for chathub.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion. Unset tuning values get
// defaults and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATHUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chathub/gateway.yaml
//  3. ~/.config/chathub/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHATHUB_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/chathub/chathub.db"
//
//	auth:
//	  jwt_secret: "${CHATHUB_JWT_SECRET}"  # at least 32 bytes
//
//	hub:
//	  max_message_bytes: 65536
//	  send_buffer: 64
//	  write_timeout: "10s"
//	  pong_timeout: "60s"
//	  ping_interval: "54s"     # must be shorter than pong_timeout
//	  dedupe_ttl: "5m"
//	  dedupe_max_entries: 100000
//
//	presence:
//	  redis:
//	    enabled: false
//	    addr: "localhost:6379"
//	    key: "chathub:presence:online"
//
//	events:
//	  nats:
//	    enabled: false
//	    url: "nats://localhost:4222"
//	    subject_prefix: "chathub"
//
//	tailscale:
//	  enabled: false
//	  hostname: "chathub"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use Go's time.ParseDuration syntax.
package config
