package datastore

import (
	"sync"

	"github.com/google/uuid"

	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// subscriptionChannelDepth bounds a subscriber's notification channel. A
// full channel causes the owner goroutine to drop the subscription rather
// than block.
const subscriptionChannelDepth = 16

// Subscription is a path-exact registration returned by DataStore.Subscribe.
// Its channel, returned by C, yields every future Value written at the
// subscribed path until Close is called or the owner thread drops it for a
// full channel.
type Subscription[T any] struct {
	id   uuid.UUID
	path pathtree.Path
	ch   chan Value[T]

	closeOnce sync.Once
	unsub     func(uuid.UUID)
}

// C returns the channel of future values. It is closed when the
// subscription is torn down, whether by Close or by the owner thread.
func (s *Subscription[T]) C() <-chan Value[T] {
	return s.ch
}

// Path returns the path this subscription was registered against.
func (s *Subscription[T]) Path() pathtree.Path {
	return s.path
}

// Close unsubscribes, blocking until the owner goroutine has removed the
// record and closed the channel returned by C. Callers must call Close
// when done, and before the store's own last handle is closed, matching
// the explicit-lifecycle pattern used by MessageQueue and DataStore
// handles themselves.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.unsub(s.id)
	})
}
