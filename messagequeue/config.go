package messagequeue

import (
	"log/slog"
	"time"
)

// Config configures retention policy for a MessageQueue instance.
type Config struct {
	// DatabaseSchema optionally names the schema/namespace this queue's
	// identity belongs to. The concurrency core never reads it itself; it
	// exists so callers can tag instances for external bookkeeping (e.g.
	// logging, metrics).
	DatabaseSchema string

	// MessageExpiry bounds how long a retained message is kept, measured
	// from send time. Nil means no age-based trimming.
	MessageExpiry *time.Duration

	// MessageLimit bounds how many retained messages a single node keeps.
	// Nil means no count-based trimming.
	MessageLimit *int

	// LogHandler receives owner-goroutine lifecycle and operation events.
	// A nil LogHandler falls back to the pretty console handler in
	// internal/slogpretty.
	LogHandler slog.Handler
}

// Option mutates a Config; used with New for a functional-options
// constructor in the style of tlru.Option.
type Option func(*Config)

// WithDatabaseSchema sets Config.DatabaseSchema.
func WithDatabaseSchema(schema string) Option {
	return func(c *Config) { c.DatabaseSchema = schema }
}

// WithMessageExpiry sets Config.MessageExpiry.
func WithMessageExpiry(d time.Duration) Option {
	return func(c *Config) { c.MessageExpiry = &d }
}

// WithMessageLimit sets Config.MessageLimit.
func WithMessageLimit(n int) Option {
	return func(c *Config) { c.MessageLimit = &n }
}

// WithLogHandler sets Config.LogHandler.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Config) { c.LogHandler = handler }
}
