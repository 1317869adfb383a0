// Package datastore implements a path-keyed, history-tracking store: a
// single owner goroutine serializes every read and write against a
// persistence.Adapter and a TLRU value cache, exposing a cheaply clonable
// handle over request channels, mirroring the messagequeue package's
// owner-goroutine style.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appserver "github.com/g-dg/garnetdg-app-server"
	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/internal/slogpretty"
	"github.com/g-dg/garnetdg-app-server/pathtree"
	"github.com/g-dg/garnetdg-app-server/persistence"
	"github.com/g-dg/garnetdg-app-server/tlru"
)

const requestQueueDepth = 1024
const cleanupSweepInterval = time.Second

// valueCacheSize bounds the TLRU of decoded payloads; entries also idle
// out so a burst of history reads does not pin memory indefinitely.
const valueCacheSize = 1024
const valueCacheIdleAge = 10 * time.Minute

// fatalError wraps a persistence.Adapter error. Such an error is fatal:
// the owner goroutine surfaces it to the in-flight caller, then terminates
// so that every subsequent request on this instance fails the way a
// disconnected channel does (a send on a closed Go channel panics, putting
// the handle in an unusable post-shutdown state).
type fatalError struct{ err error }

func (e *fatalError) Error() string { return fmt.Sprintf("datastore: fatal persistence error: %v", e.err) }
func (e *fatalError) Unwrap() error { return e.err }

type valueResult[T any] struct {
	value Value[T]
	err   error
}

type valuesResult[T any] struct {
	values []Value[T]
	err    error
}

type listResult struct {
	children []string
	err      error
}

type getCurrentRequest struct {
	path pathtree.Path
}

type getAllRequest struct {
	path  pathtree.Path
	after ids.ID
}

type writeRequest[T any] struct {
	path    pathtree.Path
	payload *T // nil means delete
}

type subscribeRequest struct {
	path pathtree.Path
}

// DataStore is a cheaply clonable handle to a path-keyed history-tracking
// store. All clones share one owner goroutine; call Close on every clone
// once done with it; the owner goroutine shuts down (and closes its
// PersistenceAdapter) when the last clone is closed.
type DataStore[T any] struct {
	getCurrentCh  chan requestEnvelope[getCurrentRequest, valueResult[T]]
	getAllCh      chan requestEnvelope[getAllRequest, valuesResult[T]]
	listCh        chan requestEnvelope[pathtree.Path, listResult]
	writeCh       chan requestEnvelope[writeRequest[T], valueResult[T]]
	subscribeCh   chan requestEnvelope[subscribeRequest, *Subscription[T]]
	unsubscribeCh chan requestEnvelope[uuid.UUID, struct{}]
	pingCh        chan chan struct{}
	shutdownCh    chan chan struct{}

	refs *atomic.Int32
	done chan struct{}
}

// requestEnvelope pairs a request payload with its per-call response
// channel, the same shape used throughout messagequeue.
type requestEnvelope[Req, Resp any] struct {
	req  Req
	resp chan Resp
}

type subRecord[T any] struct {
	id   uuid.UUID
	path pathtree.Path
	ch   chan Value[T]
}

// New provisions cfg's schema on adapter (synchronously, so a bad
// connection or schema conflict is reported to the caller instead of
// surfacing later as a fatal owner-thread error) and starts the owner
// goroutine.
func New[T any](ctx context.Context, name string, adapter persistence.Adapter, codec Codec[T], opts ...Option) (*DataStore[T], error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	storeCfg := persistence.StoreConfig{
		Namespace:   cfg.DatabaseSchema,
		StoreName:   name,
		KeepHistory: cfg.KeepHistory,
		MaxAge:      cfg.HistoryMaxAge,
		MaxEntries:  cfg.HistoryMaxEntries,
	}

	if err := adapter.Create(ctx, storeCfg); err != nil {
		return nil, fmt.Errorf("datastore: create schema for %q: %w", name, err)
	}

	handler := cfg.LogHandler
	if handler == nil {
		handler = slogpretty.DefaultHandler
	}

	ds := &DataStore[T]{
		getCurrentCh:  make(chan requestEnvelope[getCurrentRequest, valueResult[T]], requestQueueDepth),
		getAllCh:      make(chan requestEnvelope[getAllRequest, valuesResult[T]], requestQueueDepth),
		listCh:        make(chan requestEnvelope[pathtree.Path, listResult], requestQueueDepth),
		writeCh:       make(chan requestEnvelope[writeRequest[T], valueResult[T]], requestQueueDepth),
		subscribeCh:   make(chan requestEnvelope[subscribeRequest, *Subscription[T]], requestQueueDepth),
		unsubscribeCh: make(chan requestEnvelope[uuid.UUID, struct{}], requestQueueDepth),
		pingCh:        make(chan chan struct{}, requestQueueDepth),
		shutdownCh:    make(chan chan struct{}, 1),
		refs:          &atomic.Int32{},
		done:          make(chan struct{}),
	}
	ds.refs.Store(1)

	o := &owner[T]{
		name:        name,
		storeCfg:    storeCfg,
		adapter:     adapter,
		codec:       codec,
		cache:       tlru.New[ids.ID, T](tlru.WithMaxItems(valueCacheSize), tlru.WithMaxIdleAge(valueCacheIdleAge)),
		byID:        make(map[uuid.UUID]*subRecord[T]),
		byPath:      make(map[string][]*subRecord[T]),
		logger:      appserver.NewOperationLogger(handler, "datastore", name),
		cleanupPath: make(map[string]pathtree.Path),
	}
	go o.run(ds)

	return ds, nil
}

// Clone returns a new handle sharing this instance's owner goroutine,
// incrementing its reference count. Each clone must eventually be closed.
func (ds *DataStore[T]) Clone() *DataStore[T] {
	ds.refs.Add(1)
	clone := *ds
	return &clone
}

// Close releases this handle. Once every clone has been closed, the owner
// goroutine is sent a shutdown request, its PersistenceAdapter is closed,
// and this call blocks until it has terminated.
func (ds *DataStore[T]) Close() {
	if ds.refs.Add(-1) > 0 {
		return
	}
	resp := make(chan struct{})
	ds.shutdownCh <- resp
	<-resp
	<-ds.done
}

func call[Req, Resp any](ctx context.Context, ch chan requestEnvelope[Req, Resp], req Req) (Resp, error) {
	var zero Resp
	resp := make(chan Resp, 1)
	select {
	case ch <- requestEnvelope[Req, Resp]{req: req, resp: resp}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetCurrent returns path's newest revision, or a Value with a nil Payload
// and the zero ChangeId if path has never been written.
func (ds *DataStore[T]) GetCurrent(ctx context.Context, path pathtree.Path) (Value[T], error) {
	r, err := call(ctx, ds.getCurrentCh, getCurrentRequest{path: path.Clone()})
	if err != nil {
		return Value[T]{}, err
	}
	return r.value, r.err
}

// GetAll returns path's history, exclusive of afterChangeID when it is
// non-zero, in chronological order.
func (ds *DataStore[T]) GetAll(ctx context.Context, path pathtree.Path, afterChangeID ids.ID) ([]Value[T], error) {
	r, err := call(ctx, ds.getAllCh, getAllRequest{path: path.Clone(), after: afterChangeID})
	if err != nil {
		return nil, err
	}
	return r.values, r.err
}

// List returns the immediate child keys of path that carry a live value.
func (ds *DataStore[T]) List(ctx context.Context, path pathtree.Path) ([]string, error) {
	r, err := call(ctx, ds.listCh, path.Clone())
	if err != nil {
		return nil, err
	}
	return r.children, r.err
}

// Set writes v at path, returning the new revision's ChangeId.
func (ds *DataStore[T]) Set(ctx context.Context, path pathtree.Path, v T) (ids.ID, error) {
	r, err := call(ctx, ds.writeCh, writeRequest[T]{path: path.Clone(), payload: &v})
	if err != nil {
		return ids.None, err
	}
	if r.err != nil {
		return ids.None, r.err
	}
	return r.value.ChangeID, nil
}

// Delete records a delete marker at path, returning the new revision's
// ChangeId.
func (ds *DataStore[T]) Delete(ctx context.Context, path pathtree.Path) (ids.ID, error) {
	r, err := call(ctx, ds.writeCh, writeRequest[T]{path: path.Clone(), payload: nil})
	if err != nil {
		return ids.None, err
	}
	if r.err != nil {
		return ids.None, r.err
	}
	return r.value.ChangeID, nil
}

// Subscribe registers a path-exact subscription; the returned Subscription
// yields every future Value written at path until Close is called.
func (ds *DataStore[T]) Subscribe(ctx context.Context, path pathtree.Path) (*Subscription[T], error) {
	return call(ctx, ds.subscribeCh, subscribeRequest{path: path.Clone()})
}

// Ping round-trips through the owner thread, for measuring store latency.
func (ds *DataStore[T]) Ping(ctx context.Context) error {
	resp := make(chan struct{}, 1)
	select {
	case ds.pingCh <- resp:
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

// unsubscribe blocks until the owner goroutine has removed the record and
// closed its notification channel, so a caller returning from
// Subscription.Close never receives another value.
func (ds *DataStore[T]) unsubscribe(id uuid.UUID) {
	resp := make(chan struct{}, 1)
	ds.unsubscribeCh <- requestEnvelope[uuid.UUID, struct{}]{req: id, resp: resp}
	<-resp
}

type owner[T any] struct {
	name     string
	storeCfg persistence.StoreConfig
	adapter  persistence.Adapter
	codec    Codec[T]
	cache    *tlru.Cache[ids.ID, T]

	byID   map[uuid.UUID]*subRecord[T]
	byPath map[string][]*subRecord[T]

	// cleanupPath tracks the distinct paths written since the last sweep,
	// so the periodic retention pass only calls adapter.Cleanup for paths
	// that actually changed.
	cleanupPath map[string]pathtree.Path

	logger *appserver.OperationLogger
}

func (o *owner[T]) run(ds *DataStore[T]) {
	defer close(ds.done)
	defer func() {
		if err := o.adapter.Close(); err != nil {
			o.logger.Log(context.Background(), "adapter_close", time.Now(), err)
		}
	}()

	ticker := time.NewTicker(cleanupSweepInterval)
	defer ticker.Stop()

	ctx := context.Background()

	for {
		select {
		case req := <-ds.getCurrentCh:
			start := time.Now()
			v, err := o.getCurrent(ctx, req.req.path)
			o.logger.Log(ctx, "get_current", start, err)
			req.resp <- valueResult[T]{value: v, err: stripFatal(err)}
			if o.isFatal(err) {
				o.terminate(ds)
				return
			}

		case req := <-ds.getAllCh:
			start := time.Now()
			vs, err := o.getAll(ctx, req.req.path, req.req.after)
			o.logger.Log(ctx, "get_all", start, err)
			req.resp <- valuesResult[T]{values: vs, err: stripFatal(err)}
			if o.isFatal(err) {
				o.terminate(ds)
				return
			}

		case req := <-ds.listCh:
			start := time.Now()
			children, err := o.adapter.List(ctx, o.storeCfg, req.req)
			o.logger.Log(ctx, "list", start, err)
			req.resp <- listResult{children: children, err: err}
			if err != nil {
				o.terminate(ds)
				return
			}

		case req := <-ds.writeCh:
			start := time.Now()
			v, err := o.write(ctx, req.req.path, req.req.payload)
			o.logger.Log(ctx, "write", start, err)
			req.resp <- valueResult[T]{value: v, err: stripFatal(err)}
			if o.isFatal(err) {
				o.terminate(ds)
				return
			}

		case req := <-ds.subscribeCh:
			sub := o.subscribe(req.req.path)
			sub.unsub = ds.unsubscribe
			req.resp <- sub

		case req := <-ds.unsubscribeCh:
			o.unsubscribe(req.req)
			req.resp <- struct{}{}

		case resp := <-ds.pingCh:
			resp <- struct{}{}

		case <-ticker.C:
			o.sweep(ctx)

		case resp := <-ds.shutdownCh:
			o.shutdown()
			resp <- struct{}{}
			return
		}
	}
}

func (o *owner[T]) isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

func stripFatal(err error) error {
	var fe *fatalError
	if errors.As(err, &fe) {
		return fe.err
	}
	return err
}

// terminate tears down the owner goroutine after a fatal persistence
// error, closing every outstanding subscription channel and the request
// channels themselves: a caller racing the dying owner goroutine panics on
// its next send, rather than blocking forever on a reply that will never
// come.
func (o *owner[T]) terminate(ds *DataStore[T]) {
	o.logger.Shutdown(context.Background(), "terminating after fatal persistence error")
	for _, rec := range o.byID {
		close(rec.ch)
	}
	close(ds.getCurrentCh)
	close(ds.getAllCh)
	close(ds.listCh)
	close(ds.writeCh)
	close(ds.subscribeCh)
	close(ds.unsubscribeCh)
	close(ds.pingCh)
	close(ds.shutdownCh)
}

func (o *owner[T]) getCurrent(ctx context.Context, path pathtree.Path) (Value[T], error) {
	meta, err := o.adapter.GetCurrent(ctx, o.storeCfg, path)
	if errors.Is(err, persistence.ErrNotFound) {
		return Value[T]{Path: path, ChangeID: ids.None}, nil
	}
	if err != nil {
		return Value[T]{}, &fatalError{err: err}
	}
	return o.resolve(ctx, path, meta)
}

func (o *owner[T]) getAll(ctx context.Context, path pathtree.Path, after ids.ID) ([]Value[T], error) {
	metas, err := o.adapter.GetHistory(ctx, o.storeCfg, path, after)
	if err != nil {
		return nil, &fatalError{err: err}
	}
	out := make([]Value[T], 0, len(metas))
	for _, meta := range metas {
		v, err := o.resolve(ctx, path, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// resolve turns adapter metadata into a Value, consulting the TLRU cache
// keyed by ChangeId before falling back to adapter.GetValue.
func (o *owner[T]) resolve(ctx context.Context, path pathtree.Path, meta persistence.ValueMeta) (Value[T], error) {
	if meta.Deleted {
		return Value[T]{Path: path, ChangeID: meta.ChangeID, Timestamp: meta.Timestamp}, nil
	}

	if cached, ok := o.cache.Get(meta.ChangeID); ok {
		return Value[T]{Path: path, ChangeID: meta.ChangeID, Timestamp: meta.Timestamp, Payload: &cached}, nil
	}

	serialized, deleted, err := o.adapter.GetValue(ctx, o.storeCfg, meta.ChangeID)
	if err != nil {
		return Value[T]{}, &fatalError{err: err}
	}
	if deleted {
		return Value[T]{Path: path, ChangeID: meta.ChangeID, Timestamp: meta.Timestamp}, nil
	}

	payload, err := o.codec.Decode(serialized)
	if err != nil {
		return Value[T]{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	o.cache.Insert(meta.ChangeID, payload)

	return Value[T]{Path: path, ChangeID: meta.ChangeID, Timestamp: meta.Timestamp, Payload: &payload}, nil
}

func (o *owner[T]) write(ctx context.Context, path pathtree.Path, payload *T) (Value[T], error) {
	var serialized *string
	if payload != nil {
		s, err := o.codec.Encode(*payload)
		if err != nil {
			return Value[T]{}, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
		}
		serialized = &s
	}

	changeID, err := o.adapter.Set(ctx, o.storeCfg, path, serialized)
	if err != nil {
		return Value[T]{}, &fatalError{err: err}
	}

	v := Value[T]{Path: path, ChangeID: changeID, Timestamp: time.Now(), Payload: payload}
	if payload != nil {
		o.cache.Insert(changeID, *payload)
	}

	o.cleanupPath[pathKey(path)] = path
	o.notify(path, v)

	return v, nil
}

// notify delivers v to every path-exact subscriber, dropping any whose
// channel is full rather than blocking; a dropped subscriber must re-read
// via GetAll with its last received ChangeId to catch up.
func (o *owner[T]) notify(path pathtree.Path, v Value[T]) {
	key := pathKey(path)
	subs := o.byPath[key]
	if len(subs) == 0 {
		return
	}

	live := subs[:0]
	for _, rec := range subs {
		select {
		case rec.ch <- v:
			live = append(live, rec)
		default:
			close(rec.ch)
			delete(o.byID, rec.id)
		}
	}
	if len(live) == 0 {
		delete(o.byPath, key)
	} else {
		o.byPath[key] = live
	}
}

func (o *owner[T]) subscribe(path pathtree.Path) *Subscription[T] {
	rec := &subRecord[T]{
		id:   uuid.New(),
		path: path,
		ch:   make(chan Value[T], subscriptionChannelDepth),
	}
	o.byID[rec.id] = rec
	key := pathKey(path)
	o.byPath[key] = append(o.byPath[key], rec)

	return &Subscription[T]{id: rec.id, path: path, ch: rec.ch, unsub: nil}
}

func (o *owner[T]) unsubscribe(id uuid.UUID) {
	rec, ok := o.byID[id]
	if !ok {
		// already dropped by notify for a full channel; nothing to close.
		return
	}
	delete(o.byID, id)
	close(rec.ch)

	key := pathKey(rec.path)
	subs := o.byPath[key]
	for i, r := range subs {
		if r.id == id {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(o.byPath, key)
	} else {
		o.byPath[key] = subs
	}
}

// sweep enforces retention on every path written since the last pass.
func (o *owner[T]) sweep(ctx context.Context) {
	if len(o.cleanupPath) == 0 {
		return
	}
	for key, path := range o.cleanupPath {
		if err := o.adapter.Cleanup(ctx, o.storeCfg, path); err != nil {
			o.logger.Log(ctx, "cleanup", time.Now(), err)
		}
		delete(o.cleanupPath, key)
	}
}

func (o *owner[T]) shutdown() {
	for _, rec := range o.byID {
		close(rec.ch)
	}
	o.logger.Shutdown(context.Background(), fmt.Sprintf("%s: last handle closed", o.name))
}

// pathKey derives a collision-free map key from a Path: strconv.Quote
// escapes any embedded separator-like bytes in a segment, and the null
// byte between quoted segments cannot appear inside a quoted Go string, so
// no two distinct paths can produce the same key.
func pathKey(path pathtree.Path) string {
	var sb strings.Builder
	for _, seg := range path {
		sb.WriteByte(0)
		sb.WriteString(strconv.Quote(seg))
	}
	return sb.String()
}
