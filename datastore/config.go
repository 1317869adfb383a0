package datastore

import (
	"log/slog"
	"time"
)

// Config configures a DataStore instance's identity and retention policy.
type Config struct {
	// DatabaseSchema optionally groups this store's tables under a
	// namespace; forwarded to persistence.StoreConfig.Namespace.
	DatabaseSchema string

	// KeepHistory, when false, means only the current value is retained
	// per path; every prior revision is purged on cleanup.
	KeepHistory bool
	// HistoryMaxAge bounds how long a non-current revision may be kept,
	// when KeepHistory is true. Nil means no age bound.
	HistoryMaxAge *time.Duration
	// HistoryMaxEntries bounds how many revisions are kept per path, the
	// current one included, when KeepHistory is true; the current revision
	// is always kept. Nil means no count bound.
	HistoryMaxEntries *int

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

// WithKeepHistory sets Config.KeepHistory.
func WithKeepHistory(keep bool) Option {
	return func(c *Config) { c.KeepHistory = keep }
}

// WithHistoryMaxAge sets Config.HistoryMaxAge.
func WithHistoryMaxAge(d time.Duration) Option {
	return func(c *Config) { c.HistoryMaxAge = &d }
}

// WithHistoryMaxEntries sets Config.HistoryMaxEntries.
func WithHistoryMaxEntries(n int) Option {
	return func(c *Config) { c.HistoryMaxEntries = &n }
}

// WithLogHandler sets Config.LogHandler.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Config) { c.LogHandler = handler }
}
