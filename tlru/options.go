package tlru

import "time"

// config holds the optional bounds applied by New. Every bound is a
// pointer so "unset" (no bound) is distinguishable from a zero duration or
// a zero item count.
type config struct {
	maxItems     *int
	maxCreateAge *time.Duration
	maxIdleAge   *time.Duration
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithMaxItems bounds the cache to at most n entries; Insert and GC evict
// the oldest entries to enforce this after every operation.
func WithMaxItems(n int) Option {
	return func(c *config) {
		c.maxItems = &n
	}
}

// WithMaxCreateAge expires an entry once it has existed longer than d,
// regardless of how recently it was accessed.
func WithMaxCreateAge(d time.Duration) Option {
	return func(c *config) {
		c.maxCreateAge = &d
	}
}

// WithMaxIdleAge expires an entry once it has gone unaccessed for longer
// than d.
func WithMaxIdleAge(d time.Duration) Option {
	return func(c *config) {
		c.maxIdleAge = &d
	}
}
