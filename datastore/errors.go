package datastore

import "errors"

// ErrDecodeFailed wraps a codec failure decoding a cached or fetched
// payload. It is fatal only to the owning request, not to the owner
// goroutine.
var ErrDecodeFailed = errors.New("datastore: failed to decode payload")

// ErrEncodeFailed wraps a codec failure encoding a payload for
// persistence. Like ErrDecodeFailed, it fails only the owning request.
var ErrEncodeFailed = errors.New("datastore: failed to encode payload")
