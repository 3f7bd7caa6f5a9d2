/*
Package config provides configuration management for vaultstore.

Configuration is resolved from three sources, lowest priority first:

	┌─────────────────────────────────────────────┐
	│           Default Values                    │  NewDefault()
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │  LoadFromFile()
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │  LoadFromEnv()
	│           (VAULTSTORE_*)                    │
	└─────────────────────────────────────────────┘

Command line flags in cmd/vaultstore are applied last.

# Sections

	store:         root directory, backend (local or s3), s3 bucket settings
	cache:         capacity (entries), ttl, compression
	security:      session_ttl, max_failed_attempts, lockout_window, rate_limit, rate_window
	locking:       lock_timeout
	transactions:  max_history
	monitoring:    alert thresholds, metrics namespace and listen address
	journal:       optional badger journal
	logging:       level, format, file

# Example

	store:
	  root: /var/lib/vaultstore
	  backend: local
	cache:
	  capacity: 1000
	  ttl: 1h
	  compression: true
	security:
	  session_ttl: 24h
	  max_failed_attempts: 5
	  lockout_window: 30m
	  rate_limit: 100
	  rate_window: 60s

Validate checks struct tags with go-playground/validator and the cross-field rules the tags
cannot express, returning a CONFIG_VALIDATION error.
*/
package config
