// Package config handles configuration loading for fixie-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. A .env file next to the binary (or named by FIXIE_ENV_FILE) is
// loaded into the environment first, so secrets can stay out of the YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	memgpt:
//	  api_key: "${MEMGPT_SERVER_PASS}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	memgpt:
//	  timeout: "30s"
//	  attach_delay: "2s"
//	  retry:
//	    max_attempts: 3
//	    delay: "5s"
//	delivery:
//	  poll_interval: "100ms"
//
// # Configuration Sections
//
// Agent service:
//
//	memgpt:
//	  base_url: "http://memgpt:8083/api"
//	  api_key: "${MEMGPT_SERVER_PASS}"
//	  not_ready_markers: ["agent_id", "does not exist"]
//
// Matrix, with either an access token or a password login:
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@fixie:example.org"
//	  access_token: "${MATRIX_TOKEN}"
//	  allowed_users: ["@alice:example.org"]
//	  typing_indicator: true
//
// Storage:
//
//	database:
//	  driver: "sqlite"            # or postgres with dsn
//	  path: "./fixie.db"
//	directory_cache:
//	  size: 1024
//	  ttl: "5m"
//
// Profiles, health and admin:
//
//	profiles:
//	  path: "./profiles.toml"
//	  watch: true
//	health:
//	  schedule: "@every 1m"
//	admin:
//	  http_addr: "127.0.0.1:8090"
//	  jwt_secret: "${FIXIE_JWT_SECRET}"
//	  tailscale:
//	    enabled: false
//	    hostname: "fixie-admin"
//
// # Validation
//
// Load applies defaults and validates after parsing. The agent service URL,
// the homeserver with credentials, and a usable database are required; the
// admin server requires a JWT secret when enabled.
package config
