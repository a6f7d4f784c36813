package license

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	touchCacheNumCounters = 1e6
	touchCacheBufferItems = 64
)

// TouchDebouncer limits last-validated writes to one per interval for each
// (license, machine) pair. Entries are admitted best effort, so a write may
// occasionally repeat; it never suppresses one for longer than the interval.
type TouchDebouncer struct {
	cache    *ristretto.Cache[string, struct{}]
	interval time.Duration
}

// NewTouchDebouncer creates a debouncer tracking up to maxEntries pairs.
// A non-positive interval disables debouncing.
func NewTouchDebouncer(interval time.Duration, maxEntries int64) (*TouchDebouncer, error) {
	if interval <= 0 {
		return &TouchDebouncer{}, nil
	}
	if maxEntries <= 0 {
		maxEntries = 100_000
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: touchCacheNumCounters,
		MaxCost:     maxEntries,
		BufferItems: touchCacheBufferItems,
		// cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create touch cache: %w", err)
	}

	return &TouchDebouncer{cache: cache, interval: interval}, nil
}

// ShouldTouch reports whether the pair is due for a write and, if so,
// marks it written for the next interval
func (d *TouchDebouncer) ShouldTouch(licenseID, machineID string) bool {
	if d == nil || d.cache == nil {
		return true
	}
	key := licenseID + "\x00" + machineID
	if _, found := d.cache.Get(key); found {
		return false
	}
	d.cache.SetWithTTL(key, struct{}{}, 1, d.interval)
	return true
}

// Forget drops the pair so the next validation writes immediately
func (d *TouchDebouncer) Forget(licenseID, machineID string) {
	if d == nil || d.cache == nil {
		return
	}
	d.cache.Del(licenseID + "\x00" + machineID)
}

// Wait blocks until buffered writes are applied
func (d *TouchDebouncer) Wait() {
	if d != nil && d.cache != nil {
		d.cache.Wait()
	}
}

// Close releases the cache goroutines
func (d *TouchDebouncer) Close() {
	if d != nil && d.cache != nil {
		d.cache.Close()
	}
}
