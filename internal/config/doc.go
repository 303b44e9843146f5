// Package config handles configuration loading for qapictl.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from QAPI_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/qapi/config.yaml
//  3. ~/.config/qapi/config.yaml
//
// Files ending in .toml are parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	endpoints:
//	  vm1:
//	    address: "${XDG_RUNTIME_DIR}/qemu/vm1.qmp"
//
// # Endpoints
//
//	endpoints:
//	  vm1:
//	    protocol: qmp        # qmp or qga (default qmp)
//	    network: unix        # unix or tcp (default unix)
//	    address: /run/qemu/vm1.qmp
//	    disable_oob: false
//	    dial_timeout: "5s"
//	    command_timeout: "30s"
//	  vm1-agent:
//	    protocol: qga
//	    address: /run/qemu/vm1.qga
//
// Logging and journal:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	journal:
//	  enabled: true
//	  path: "${HOME}/.local/share/qapi/journal.db"
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	ep, err := cfg.Endpoint("vm1")
package config
