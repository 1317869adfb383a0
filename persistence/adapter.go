// Package persistence defines the abstract durable backing a DataStore
// consumes (C3 in the design), plus name-sanitization helpers shared by any
// concrete adapter. A concrete SQLite-backed adapter lives in
// persistence/sqlite.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// ErrNotFound is returned by Adapter methods that look up a single record
// (the current value, a specific change) when none exists.
var ErrNotFound = errors.New("persistence: not found")

// StoreConfig describes a single named store's identity and retention
// policy, as consumed by Create and Cleanup.
type StoreConfig struct {
	// Namespace optionally groups several stores under one schema/prefix.
	Namespace string
	// StoreName names the store; combined with Namespace to derive table
	// names (see the sqlite package for the exact quoting/sanitization
	// rules).
	StoreName string

	// KeepHistory, when false, means Cleanup purges every row at a path
	// older than its current value.
	KeepHistory bool
	// MaxAge, when set and KeepHistory is true, bounds how long a
	// non-current row may be kept.
	MaxAge *time.Duration
	// MaxEntries, when set and KeepHistory is true, bounds how many rows
	// may be kept per path, the current one included; the current row is
	// always kept.
	MaxEntries *int
}

// ValueMeta is the metadata persisted for one revision of a path, without
// its payload. The payload is fetched separately via GetValue, so a caller
// holding a cache keyed by ChangeID can skip the fetch entirely on a hit.
type ValueMeta struct {
	ChangeID  ids.ID
	Timestamp time.Time
	// Deleted marks this revision as a delete marker (persisted as a NULL
	// value rather than encoding "deleted" in the payload itself).
	Deleted bool
}

// Adapter is the durable backing a DataStore owner goroutine calls
// through. Every method must be safe to call concurrently from multiple
// DataStore owner goroutines sharing one Adapter (e.g. backed by a pooled
// SQL connection).
type Adapter interface {
	// Create idempotently provisions the schema for cfg's store.
	Create(ctx context.Context, cfg StoreConfig) error

	// GetCurrent returns the metadata of the newest revision at path, or
	// ErrNotFound if path has no revisions.
	GetCurrent(ctx context.Context, cfg StoreConfig, path pathtree.Path) (ValueMeta, error)

	// GetHistory returns path's revisions in chronological order,
	// exclusive of afterChangeID when it is non-zero.
	GetHistory(ctx context.Context, cfg StoreConfig, path pathtree.Path, afterChangeID ids.ID) ([]ValueMeta, error)

	// GetValue returns the serialized payload for changeID within cfg's
	// store, or ErrNotFound if no such revision exists. A revision whose
	// stored value is a delete marker returns ("", true, nil) via deleted.
	GetValue(ctx context.Context, cfg StoreConfig, changeID ids.ID) (value string, deleted bool, err error)

	// List returns the immediate child keys of path whose subtree holds at
	// least one path whose newest revision is not a delete marker.
	List(ctx context.Context, cfg StoreConfig, path pathtree.Path) ([]string, error)

	// Set creates path if needed and appends a new revision, returning its
	// generated ChangeID. A nil value records a delete marker.
	Set(ctx context.Context, cfg StoreConfig, path pathtree.Path, value *string) (ids.ID, error)

	// Cleanup enforces cfg's retention policy at path.
	Cleanup(ctx context.Context, cfg StoreConfig, path pathtree.Path) error

	// Close releases resources held by the adapter (e.g. the connection
	// pool). It is safe to call once all stores backed by it have shut
	// down.
	Close() error
}
