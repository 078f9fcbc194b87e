// Package memory is the events-default backend: in-process delivery of
// events, returnable events, broadcasts and streams.
//
// Emissions and broadcasts run on an ants worker pool, so emit calls return
// before listeners run. Returnable events run the responder on its own
// goroutine and wait on a buffered result channel.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

// Name is the plugin name of this backend.
const Name = events.DefaultBackendName

// dedupSize is how many message ids each event listener remembers.
const dedupSize = 50

// ErrDisposed is returned by calls made after Dispose.
var ErrDisposed = fmt.Errorf("%w: events-default is disposed", plugins.ErrNotReady)

// Config is the plugin configuration.
type Config struct {
	// Workers is the pool size, 0 means 64.
	Workers int `yaml:"workers"`
	// MaxBlockingTasks bounds submissions waiting for a worker, 0 means Workers*4.
	MaxBlockingTasks int `yaml:"maxBlockingTasks"`
}

// Validate implements plugins.Validator.
func (c *Config) Validate() error {
	if c.Workers < 0 || c.MaxBlockingTasks < 0 {
		return fmt.Errorf("workers and maxBlockingTasks must not be negative")
	}
	return nil
}

// envelope is one emission on the wire.
type envelope struct {
	msgID   string
	traceID string
	args    []any
}

type eventListener struct {
	fn   events.Listener
	seen dedupRing
}

// dedupRing remembers the last dedupSize message ids.
type dedupRing struct {
	mu   sync.Mutex
	ids  [dedupSize]string
	next int
}

// observe records id and reports whether it was already seen.
func (r *dedupRing) observe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.ids {
		if s == id {
			return true
		}
	}
	r.ids[r.next] = id
	r.next = (r.next + 1) % dedupSize
	return false
}

type stream struct {
	topic    string
	listener events.StreamListener
	ctx      context.Context
	timer    *time.Timer
}

// Backend implements events.Backend in process.
type Backend struct {
	log  *log.PluginLogger
	pool *ants.Pool

	mu          sync.RWMutex
	events      map[string][]*eventListener
	returnables map[string][]events.ReturnableListener
	broadcasts  map[string][]events.Listener
	streams     map[string]*stream
	disposed    bool
}

var _ events.Backend = (*Backend)(nil)

// New builds the backend and its worker pool.
func New(cfg Config, logger *log.PluginLogger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size := cfg.Workers
	if size == 0 {
		size = 64
	}
	maxBlock := cfg.MaxBlockingTasks
	if maxBlock == 0 {
		maxBlock = max(size*4, 64)
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(false), ants.WithMaxBlockingTasks(maxBlock))
	if err != nil {
		return nil, fmt.Errorf("events-default worker pool: %w", err)
	}
	return &Backend{
		log:         logger,
		pool:        pool,
		events:      make(map[string][]*eventListener),
		returnables: make(map[string][]events.ReturnableListener),
		broadcasts:  make(map[string][]events.Listener),
		streams:     make(map[string]*stream),
	}, nil
}

// OnEvent registers l for key. Only the first listener of a key receives emissions.
func (b *Backend) OnEvent(_ context.Context, key events.Key, l events.Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ErrDisposed
	}
	topic := key.Topic()
	b.events[topic] = append(b.events[topic], &eventListener{fn: l})
	b.log.Debug("listening for event {topic}", log.Meta{"topic": topic})
	return nil
}

// EmitEvent schedules delivery to the first listener of key. It does not
// wait for the listener and succeeds when nobody listens.
func (b *Backend) EmitEvent(ctx context.Context, key events.Key, traceID string, args []any) error {
	env := envelope{msgID: uuid.NewString(), traceID: traceID, args: args}
	topic := key.Topic()
	ctx = context.WithoutCancel(ctx)
	return b.submit(func() { b.deliver(ctx, topic, env) })
}

// deliver hands env to the first listener of topic unless that listener has
// already seen env.msgID.
func (b *Backend) deliver(ctx context.Context, topic string, env envelope) {
	b.mu.RLock()
	ls := b.events[topic]
	var first *eventListener
	if len(ls) > 0 {
		first = ls[0]
	}
	b.mu.RUnlock()
	if first == nil {
		return
	}
	if first.seen.observe(env.msgID) {
		b.log.Debug("dropped duplicate message {msgID} on {topic}", log.Meta{"msgID": env.msgID, "topic": topic})
		return
	}
	// Errors are logged by the router's listener wrapper.
	_ = first.fn(ctx, env.traceID, env.args)
}

// OnReturnableEvent registers l as a responder for key.
func (b *Backend) OnReturnableEvent(_ context.Context, key events.Key, l events.ReturnableListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ErrDisposed
	}
	topic := key.Topic()
	b.returnables[topic] = append(b.returnables[topic], l)
	b.log.Debug("listening for returnable event {topic}", log.Meta{"topic": topic})
	return nil
}

type result struct {
	value any
	err   error
}

// EmitEventAndReturn calls the first responder of key and waits for its
// answer. Without a responder it fails with events.ErrTimeout once timeout
// elapses. A late answer is discarded.
func (b *Backend) EmitEventAndReturn(ctx context.Context, key events.Key, traceID string, timeout time.Duration, args []any) (any, error) {
	b.mu.RLock()
	if b.disposed {
		b.mu.RUnlock()
		return nil, ErrDisposed
	}
	var responder events.ReturnableListener
	if ls := b.returnables[key.Topic()]; len(ls) > 0 {
		responder = ls[0]
	}
	b.mu.RUnlock()

	if timeout <= 0 {
		timeout = events.DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan result, 1)
	if responder != nil {
		rctx := context.WithoutCancel(ctx)
		go func() {
			v, err := responder(rctx, traceID, args)
			done <- result{value: v, err: err}
		}()
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return nil, events.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnBroadcast registers l to receive every broadcast of key.
func (b *Backend) OnBroadcast(_ context.Context, key events.Key, l events.Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return ErrDisposed
	}
	topic := key.Topic()
	b.broadcasts[topic] = append(b.broadcasts[topic], l)
	return nil
}

// EmitBroadcast schedules one task running every listener of key in
// registration order.
func (b *Backend) EmitBroadcast(ctx context.Context, key events.Key, traceID string, args []any) error {
	topic := key.Topic()
	ctx = context.WithoutCancel(ctx)
	return b.submit(func() {
		b.mu.RLock()
		ls := append([]events.Listener(nil), b.broadcasts[topic]...)
		b.mu.RUnlock()
		for _, l := range ls {
			_ = l(ctx, traceID, args)
		}
	})
}

// ReceiveStream registers a one-shot receiver. When nothing is sent within
// timeout the receiver is called with events.ErrTimeout and removed.
func (b *Backend) ReceiveStream(ctx context.Context, key events.Key, l events.StreamListener, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = events.DefaultTimeout
	}
	id := uuid.NewString()
	s := &stream{topic: key.Topic(), listener: l, ctx: context.WithoutCancel(ctx)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return "", ErrDisposed
	}
	b.streams[id] = s
	s.timer = time.AfterFunc(timeout, func() {
		if b.takeStream(id, "") == nil {
			return
		}
		b.log.Debug("stream {id} on {topic} timed out", log.Meta{"id": id, "topic": s.topic})
		_ = s.listener(s.ctx, events.ErrTimeout, nil)
	})
	return id, nil
}

// SendStream hands r to the receiver registered under streamID for key and
// returns the receiver's error.
func (b *Backend) SendStream(_ context.Context, key events.Key, streamID string, r io.Reader) error {
	s := b.takeStream(streamID, key.Topic())
	if s == nil {
		return fmt.Errorf("%w: %s", events.ErrStreamNotFound, streamID)
	}
	s.timer.Stop()
	return s.listener(s.ctx, nil, r)
}

// takeStream removes and returns the stream id. A non-empty topic must match.
func (b *Backend) takeStream(id, topic string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[id]
	if !ok || (topic != "" && s.topic != topic) {
		return nil
	}
	delete(b.streams, id)
	return s
}

// submit runs task on the worker pool.
func (b *Backend) submit(task func()) error {
	b.mu.RLock()
	disposed := b.disposed
	b.mu.RUnlock()
	if disposed {
		return ErrDisposed
	}
	if err := b.pool.Submit(task); err != nil {
		return fmt.Errorf("events-default submit: %w", err)
	}
	return nil
}

// Listeners returns how many event, returnable, broadcast and stream
// listeners are registered.
func (b *Backend) Listeners() (evs, returnables, broadcasts, streams int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ls := range b.events {
		evs += len(ls)
	}
	for _, ls := range b.returnables {
		returnables += len(ls)
	}
	for _, ls := range b.broadcasts {
		broadcasts += len(ls)
	}
	return evs, returnables, broadcasts, len(b.streams)
}

// Dispose removes every listener and releases the worker pool.
func (b *Backend) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	for _, s := range b.streams {
		s.timer.Stop()
	}
	clear(b.events)
	clear(b.returnables)
	clear(b.broadcasts)
	clear(b.streams)
	b.mu.Unlock()
	b.pool.Release()
}
