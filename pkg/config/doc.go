// Package config provides configuration management for Callisto.
//
// Configuration is read from YAML, decoded on top of the built-in defaults,
// optionally overridden from the environment and then validated. The result
// describes how a session pipeline is assembled: buffer limits for the
// connection registry, whether a TLS stage and an HTTP stage are present,
// how the TLS identity is produced, and where dispatched requests are
// journaled.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("callisto.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("callisto.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention CALLISTO_SECTION_FIELD:
//
//   - CALLISTO_TLS_ENABLED overrides tls.enabled
//   - CALLISTO_TLS_CERT_FILE overrides tls.cert_file
//   - CALLISTO_HTTP_MAX_BODY_BYTES overrides http.max_body_bytes
//   - CALLISTO_JOURNAL_SQLITE_DRIVER overrides journal.sqlite.driver
//   - CALLISTO_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Configuration values are applied in the following order (later overrides
// earlier):
//
//  1. Default values (NewDefault)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Validation
//
// Validation collects every problem into a ValidationError:
//
//	configuration validation failed with 2 errors:
//	  - tls.cert_file: certificate file is required when mode is 'file'
//	  - http.parse_error_policy: invalid policy "ignore": must be 'reject' or 'disconnect'
//
// # Example Configuration
//
//	server:
//	  hostname: "files.example.se"
//
//	tls:
//	  enabled: true
//	  mode: "generate"
//
//	http:
//	  max_body_bytes: 1048576
//	  stall_timeout: 2m
//
//	journal:
//	  enabled: true
//	  backend: "sqlite"
//	  sqlite:
//	    path: "data/journal.db"
//
// # Thread Safety
//
// GetConfig, SetConfig and MustGetConfig share a read-write lock
// around one process-wide instance.
package config
