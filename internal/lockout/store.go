// Package lockout throttles clients that repeatedly fail license lookups.
package lockout

import (
	"context"
	"time"
)

// State is the failure record of one client
type State struct {
	FailedCount int
	LockedUntil *time.Time
}

// Locked reports whether the client is refused at now
func (s State) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// RetryAfter is how long until the lock lifts, zero when unlocked
func (s State) RetryAfter(now time.Time) time.Duration {
	if !s.Locked(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Store records failed attempts per client key.
//
// RecordFailure increments the counter; failures older than window are
// forgotten, and reaching threshold locks the key until now+window.
type Store interface {
	Get(ctx context.Context, key string) (State, error)
	RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (State, error)
	Reset(ctx context.Context, key string) error
}
