package messagequeue

import "errors"

// ErrShutdown is returned by Recv when the owner goroutine closed a
// pending waiter's response channel during shutdown.
var ErrShutdown = errors.New("messagequeue: queue shut down while waiting")
