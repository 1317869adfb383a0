// Package sqlite implements the persistence.Adapter contract on top of a
// pure-Go, cgo-free SQLite driver, pooled through database/sql so one
// Adapter can safely serve several stores at once.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Config configures the connection to a SQLite database file (":memory:"
// is accepted for ephemeral/test use).
type Config struct {
	// Path is the database file path, or ":memory:".
	Path string
	// MaxOpenConns bounds the pool; SQLite only allows one writer at a
	// time so this mostly matters for read concurrency. Zero means the
	// database/sql default.
	MaxOpenConns int
	// Logger receives the adapter's open and close events. A nil Logger
	// falls back to slog.Default().
	Logger *slog.Logger
}

// Adapter is a persistence.Adapter backed by a pooled SQLite connection.
// All stores sharing one Adapter share its connection pool.
type Adapter struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to the database described by cfg. WAL journaling, a 60s
// busy timeout, and foreign-key enforcement are passed as _pragma DSN
// options so that every pooled connection gets them, not just the first.
func Open(cfg Config) (*Adapter, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := "file:" + path + "?" + strings.Join(pragmaOptions, "&")

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	if path == ":memory:" {
		// each pooled connection opens its own private in-memory
		// database, so the pool must stay at a single connection.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	logger.Info("sqlite adapter opened", slog.String("path", path))

	return &Adapter{db: db, log: logger}, nil
}

var pragmaOptions = []string{
	"_pragma=busy_timeout(60000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=foreign_keys(ON)",
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	a.log.Info("sqlite adapter closing")
	return a.db.Close()
}
