// Package config handles configuration loading for creatio-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Missing fields fall back to defaults; the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from CREATIO_GATEWAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/creatio-gateway/config.yaml
//  4. ~/.config/creatio-gateway/config.yaml
//
// A file ending in .toml is decoded as TOML, anything else as YAML. When the
// file does not exist, `serve` runs with Default().
//
// # Environment Variables
//
// A .env file in the same directory as the config is loaded first. Variables
// that are already set keep their value. Configuration values can then
// reference environment variables:
//
//	creatio:
//	  password: "${CREATIO_PASSWORD}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"     # ignored when tailscale is enabled
//
//	tailscale:
//	  enabled: false
//	  hostname: "creatio-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	creatio:
//	  base_url: "https://mycompany.creatio.com"  # dashboard connect form default
//	  username: "Supervisor"
//	  request_timeout: "60s"                     # per tool call
//
//	sessions:
//	  keepalive_interval: "30s"   # ": ping" on idle MCP streams
//	  sweep_interval: "1m"        # 0 disables the sweeper
//	  idle_timeout: "0s"          # 0 keeps idle streams until disconnect
//
//	dashboard:
//	  session_ttl: "2h"
//	  max_sessions: 1000
//
//	auth:
//	  jwt_secret: "${CREATIO_GATEWAY_JWT_SECRET}"  # empty leaves endpoints open
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
