// Package config loads and validates the daemon's TOML configuration.
// Missing fields take defaults, paths with a leading ~ are expanded,
// and a validated Config is the only kind handed to other packages.
package config
