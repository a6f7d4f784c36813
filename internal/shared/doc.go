// Package shared holds helpers used across packages that belong to no single
// layer. Its testutil subpackage provides a capturing slog handler and an
// in-memory license environment (store, codec and manager over a fresh
// signing key) for handler and wiring tests.
package shared
