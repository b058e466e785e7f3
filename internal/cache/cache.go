package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	// Get retrieves a value from the cache
	Get(key string) (T, bool)

	// Set stores a value in the cache
	Set(key string, data T)

	// Delete removes a key from the cache
	Delete(key string)

	// Size returns the current number of items in the cache
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Janitor periodically cleans registered caches.
type Janitor struct {
	caches   []Cleaner
	interval time.Duration
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(interval time.Duration, caches ...Cleaner) *Janitor {
	return &Janitor{caches: caches, interval: interval}
}

// Sweep cleans every registered cache once and returns the number of
// removed entries.
func (j *Janitor) Sweep() int {
	total := 0
	for _, c := range j.caches {
		total += c.CleanExpired()
	}
	return total
}

// Run sweeps until ctx is cancelled. It always returns ctx.Err().
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				slog.DebugContext(ctx, "Cache sweep removed expired entries", "removed", n)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
