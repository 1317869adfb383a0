// Package messagequeue implements a hierarchical pub/sub engine: a single
// owner goroutine serializes all mutation of a per-instance subscription
// tree, exposing a cheaply clonable handle over request channels. Messages
// sent to a path are visible to readers of that path and of every ancestor
// path up to the root.
package messagequeue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	appserver "github.com/g-dg/garnetdg-app-server"
	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/internal/slogpretty"
	"github.com/g-dg/garnetdg-app-server/pathtree"
)

// requestQueueDepth bounds each request channel. Rather than hand-rolling
// an unbounded channel, back-pressure applies: a caller blocks on send once
// requestQueueDepth requests are outstanding against one instance.
const requestQueueDepth = 1024

// sweepInterval is the owner goroutine's periodic wake-up for running
// retention trimming even when no request arrives.
const sweepInterval = time.Second

type nodeState[T any] struct {
	retained []*Message[T]
	waiters  []chan []Message[T]
}

type sendRequest[T any] struct {
	path    pathtree.Path
	payload T
	resp    chan error
}

type getRequest[T any] struct {
	path   pathtree.Path
	lastID ids.ID
	resp   chan []Message[T]
}

type waitRequest[T any] struct {
	path   pathtree.Path
	lastID ids.ID
	resp   chan []Message[T]
}

type pingRequest struct {
	resp chan struct{}
}

type shutdownRequest struct {
	resp chan struct{}
}

// MessageQueue is a cheaply clonable handle to a hierarchical message
// queue. All clones share one owner goroutine; call Close on every clone
// once done with it; the owner goroutine shuts down when the last clone is
// closed.
type MessageQueue[T any] struct {
	sendCh     chan sendRequest[T]
	getCh      chan getRequest[T]
	waitCh     chan waitRequest[T]
	pingCh     chan pingRequest
	shutdownCh chan shutdownRequest

	refs *atomic.Int32
	done chan struct{}
}

// New starts the owner goroutine for a new MessageQueue instance and
// returns the first handle to it.
func New[T any](name string, opts ...Option) *MessageQueue[T] {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	handler := cfg.LogHandler
	if handler == nil {
		handler = slogpretty.DefaultHandler
	}

	q := &MessageQueue[T]{
		sendCh:     make(chan sendRequest[T], requestQueueDepth),
		getCh:      make(chan getRequest[T], requestQueueDepth),
		waitCh:     make(chan waitRequest[T], requestQueueDepth),
		pingCh:     make(chan pingRequest, requestQueueDepth),
		shutdownCh: make(chan shutdownRequest, 1),
		refs:       &atomic.Int32{},
		done:       make(chan struct{}),
	}
	q.refs.Store(1)

	o := &owner[T]{
		name:   name,
		cfg:    cfg,
		tree:   pathtree.New[nodeState[T]](),
		logger: appserver.NewOperationLogger(handler, "messagequeue", name),
	}
	go o.run(q)

	return q
}

// Clone returns a new handle sharing this instance's owner goroutine,
// incrementing its reference count. Each clone must eventually be closed.
func (q *MessageQueue[T]) Clone() *MessageQueue[T] {
	q.refs.Add(1)
	clone := *q
	return &clone
}

// Close releases this handle. Once every clone has been closed, the owner
// goroutine is sent a shutdown request and this call blocks until it has
// drained and terminated.
func (q *MessageQueue[T]) Close() {
	if q.refs.Add(-1) > 0 {
		return
	}
	resp := make(chan struct{})
	q.shutdownCh <- shutdownRequest{resp: resp}
	<-resp
	<-q.done
}

// Send enqueues msg at path. It returns once the owner thread has accepted
// and fanned it out; it does not wait for subscribers to consume it.
func (q *MessageQueue[T]) Send(ctx context.Context, path pathtree.Path, payload T) error {
	resp := make(chan error, 1)
	select {
	case q.sendCh <- sendRequest[T]{path: path.Clone(), payload: payload, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetMessages returns the retained messages at path newer than lastID
// (ids.None for "from the beginning"), without blocking.
func (q *MessageQueue[T]) GetMessages(ctx context.Context, path pathtree.Path, lastID ids.ID) ([]Message[T], error) {
	resp := make(chan []Message[T], 1)
	select {
	case q.getCh <- getRequest[T]{path: path.Clone(), lastID: lastID, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case msgs := <-resp:
		return msgs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Recv returns the retained messages at path newer than lastID if any
// exist already, otherwise blocks until at least one message arrives or
// ctx is canceled.
func (q *MessageQueue[T]) Recv(ctx context.Context, path pathtree.Path, lastID ids.ID) ([]Message[T], error) {
	resp := make(chan []Message[T], 1)
	select {
	case q.waitCh <- waitRequest[T]{path: path.Clone(), lastID: lastID, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case msgs, ok := <-resp:
		if !ok {
			return nil, ErrShutdown
		}
		return msgs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping round-trips through the owner thread, for measuring queue latency.
func (q *MessageQueue[T]) Ping(ctx context.Context) error {
	resp := make(chan struct{}, 1)
	select {
	case q.pingCh <- pingRequest{resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type owner[T any] struct {
	name   string
	cfg    Config
	tree   *pathtree.Tree[nodeState[T]]
	logger *appserver.OperationLogger
}

func (o *owner[T]) run(q *MessageQueue[T]) {
	defer close(q.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-q.sendCh:
			start := time.Now()
			err := o.handleSend(req.path, req.payload)
			o.logger.Log(context.Background(), "send", start, err)
			req.resp <- err

		case req := <-q.getCh:
			start := time.Now()
			req.resp <- o.handleGet(req.path, req.lastID)
			o.logger.Log(context.Background(), "get_messages", start, nil)

		case req := <-q.waitCh:
			start := time.Now()
			o.handleWait(req)
			o.logger.Log(context.Background(), "recv", start, nil)

		case req := <-q.pingCh:
			req.resp <- struct{}{}

		case <-ticker.C:
			o.sweep()

		case req := <-q.shutdownCh:
			for drained := false; !drained; {
				select {
				case r := <-q.sendCh:
					r.resp <- o.handleSend(r.path, r.payload)
				case r := <-q.getCh:
					r.resp <- o.handleGet(r.path, r.lastID)
				case r := <-q.waitCh:
					o.handleWait(r)
				case r := <-q.pingCh:
					r.resp <- struct{}{}
				default:
					drained = true
				}
			}
			o.shutdown()
			req.resp <- struct{}{}
			return
		}
	}
}

func (o *owner[T]) handleSend(path pathtree.Path, payload T) error {
	msg := &Message[T]{
		Payload:   payload,
		Path:      path,
		Timestamp: time.Now(),
		ID:        ids.New(),
	}

	for depth := 0; depth <= len(path); depth++ {
		node := o.tree.Ensure(path[:depth])
		st := node.Data
		st.retained = append(st.retained, msg)
		o.trim(&st)

		waiters := st.waiters
		st.waiters = nil
		node.Data = st

		for _, w := range waiters {
			w <- []Message[T]{*msg}
			close(w)
		}
	}

	return nil
}

func (o *owner[T]) handleGet(path pathtree.Path, lastID ids.ID) []Message[T] {
	node := o.tree.Find(path)
	if node == nil {
		return nil
	}
	st := node.Data
	o.trim(&st)
	node.Data = st
	return retainedSince(st.retained, lastID)
}

// retainedSince returns the retained messages newer than the cursor: with
// no cursor, the full retained set; with a cursor, the strictly-newer
// suffix. A cursor that is no longer among the retained messages fails
// open and returns the entire retained FIFO, so a caller reconciling after
// a disconnect never silently misses data.
func retainedSince[T any](retained []*Message[T], lastID ids.ID) []Message[T] {
	if lastID.IsNone() {
		return cloneMessages(retained)
	}

	for i := len(retained) - 1; i >= 0; i-- {
		if retained[i].ID == lastID {
			return cloneMessages(retained[i+1:])
		}
	}

	return cloneMessages(retained)
}

func cloneMessages[T any](msgs []*Message[T]) []Message[T] {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message[T], len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

// handleWait checks retention and, on a miss, registers the waiter in the
// same owner-goroutine step. No other request is processed in between, so
// a Send arriving after this call returns is guaranteed to reach the
// freshly registered waiter rather than being silently missed.
func (o *owner[T]) handleWait(req waitRequest[T]) {
	node := o.tree.Find(req.path)
	if node != nil {
		st := node.Data
		o.trim(&st)
		node.Data = st

		if msgs := retainedSince(st.retained, req.lastID); len(msgs) > 0 {
			req.resp <- msgs
			return
		}
	}

	target := o.tree.Ensure(req.path)
	st := target.Data
	st.waiters = append(st.waiters, req.resp)
	target.Data = st
}

// trim enforces the configured message expiry and message limit on a
// node's retained FIFO.
func (o *owner[T]) trim(st *nodeState[T]) {
	if o.cfg.MessageExpiry != nil {
		cutoff := time.Now().Add(-*o.cfg.MessageExpiry)
		i := 0
		for i < len(st.retained) && st.retained[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			st.retained = st.retained[i:]
		}
	}
	if o.cfg.MessageLimit != nil && len(st.retained) > *o.cfg.MessageLimit {
		st.retained = st.retained[len(st.retained)-*o.cfg.MessageLimit:]
	}
}

// sweep runs the periodic retention pass and prunes empty leaf nodes
// (no children, no retained messages, no waiters).
func (o *owner[T]) sweep() {
	for node := range o.tree.AllPostOrder() {
		if node.Parent() == nil {
			continue
		}
		st := node.Data
		o.trim(&st)
		node.Data = st

		if node.IsLeaf() && len(st.retained) == 0 && len(st.waiters) == 0 {
			node.Parent().RemoveChild(node.Key())
		}
	}
}

// shutdown closes every pending waiter's response channel: a waiter blocked
// in Recv receives no value and observes channel-closed.
func (o *owner[T]) shutdown() {
	for node := range o.tree.AllPostOrder() {
		for _, w := range node.Data.waiters {
			close(w)
		}
	}
	o.logger.Shutdown(context.Background(), fmt.Sprintf("%s: last handle closed", o.name))
}
