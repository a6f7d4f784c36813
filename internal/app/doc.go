// Package app wires the license server together and runs it.
//
// NewApplication builds every component from a config.Config:
//
//  1. Logging and OpenTelemetry providers
//  2. The license store (postgres, migrated on boot when auto-migrate is on, or memory)
//  3. The lockout store (redis when a URL is configured, otherwise memory)
//  4. The payload codec, whose key is loaded eagerly but may be missing at boot
//  5. The license manager, the throttled license service and health checks
//  6. The chi router with its middleware stack, and the http.Server
//
// A missing signing key does not stop the server. Activation answers 500
// and /readyz reports not ready until the key is configured.
//
// Run serves until its context is cancelled and then shuts the server down
// gracefully. Close releases connections and flushes telemetry; callers
// own the process exit.
package app
