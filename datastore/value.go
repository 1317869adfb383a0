package datastore

import (
	"time"

	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// Value is one revision of a path: either a live payload or a delete
// marker (Payload == nil).
type Value[T any] struct {
	ChangeID  ids.ID
	Path      pathtree.Path
	Timestamp time.Time
	// Payload is nil for an absent value (GetCurrent on an unwritten
	// path) or a delete marker (the most recent write at this path was a
	// Delete).
	Payload *T
}

// Codec tells a DataStore how to turn a payload into the string a
// persistence.Adapter stores, and back. It is two injected functions
// rather than a method set so callers can reuse one DataStore
// implementation for payload types they don't own.
type Codec[T any] struct {
	Encode func(T) (string, error)
	Decode func(string) (T, error)
}
