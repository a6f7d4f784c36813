// Package license implements the activation ledger and the plugin license
// protocol: activate, validate and deactivate.
//
// # Activation
//
// Activation binds one machine id to one license slot:
//
//	1. Look up the license by key
//	2. Reject revoked or expired licenses
//	3. Reject requests whose email does not match the owner (case-insensitive)
//	4. If the machine already holds a slot, re-issue the payload
//	5. Otherwise pre-check the count, then insert through Store.CreateActivation
//	6. Encrypt the payload to the machine and sign the ciphertext
//
// The count check in step 5 is an optimization only. The store's conditional
// insert, backed by a unique (license, machine) constraint, is the
// enforcement point under concurrent requests.
//
// # Validation
//
// Validation is read-only apart from a debounced last-validated timestamp.
// Revocation and expiry are always read from the store, never cached.
//
// # Deactivation
//
// Deactivation is idempotent, including for unknown license keys, so the
// endpoint cannot be used to probe for valid keys.
package license
