package messagequeue

import (
	"time"

	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// Message is one unit of traffic sent through a MessageQueue. On the wire
// it carries `{message, path, timestamp, message_id}`; the field tags
// mirror that shape so callers can round-trip a Message through JSON.
type Message[T any] struct {
	Payload   T             `json:"message"`
	Path      pathtree.Path `json:"path"`
	Timestamp time.Time     `json:"timestamp"`
	ID        ids.ID        `json:"message_id"`
}
