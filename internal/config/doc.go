// Package config provides centralized configuration management for the
// license server. It handles loading configuration from multiple sources,
// validation, and provides a type-safe API for accessing configuration values
// throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. A YAML file named by --config or LICENSESRV_CONFIG
//	3. Default values (lowest priority)
//
// A .env file in the working directory is read into the process environment
// before anything else; variables that are already set are left alone.
//
// # Environment Variables
//
// All environment variables follow the pattern LICENSESRV_<SECTION>_<FIELD>:
//
//	LICENSESRV_SERVER_PORT=8080
//	LICENSESRV_DATABASE_URL=postgres://...
//	LICENSESRV_REDIS_URL=redis://localhost:6379/0
//	LICENSESRV_LICENSE_PRIVATE_KEY=<base64 ed25519 seed or key>
//	LICENSESRV_SECURITY_ADMIN_API_KEYS=key-one,key-two
//
// # Validation
//
// Load rejects invalid ports, non-positive timeouts, unknown store drivers,
// a postgres driver without a database URL and out-of-range telemetry
// settings. A missing signing key is not a load error: it is reported by the
// readiness probe and by the first license operation that needs it.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Testing
//
// Default returns a configuration that validates once a store driver is
// chosen, so tests can start from it and override fields directly.
package config
