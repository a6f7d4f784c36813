// Package services sits between the HTTP handlers and the license ledger.
//
// LicenseService wraps license.Manager with failed-attempt throttling:
// activations that fail on an unknown key or a wrong email are counted per
// client address in a lockout.Store, and a client that reaches the threshold
// inside the window gets ErrTooManyAttempts until the lock lifts. A
// successful activation clears the client's counter. Lockout store outages
// fail open and are logged.
//
// HealthService answers liveness, readiness and version probes. Readiness
// pings the store and the lockout backend and loads the signing key, so a
// deployment without key material is reported as not ready instead of
// failing at boot.
package services
