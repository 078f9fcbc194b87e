// Package events routes plugin events to events backends.
//
// # Routing
//
// The Router keeps an ordered list of backend bindings. Backends added from
// configuration are prepended, so the most recently added one wins when
// filters overlap, and the built-in default backend is appended last as the
// catch-all. Every call walks the list afresh and uses the first binding
// whose filter accepts (kind, plugin); when none does the call fails with
// ErrNoBackendFound.
//
// # Instrumentation
//
// Listener invocations (on* kinds) and dispatches (emit*, sendStream) are
// timed. Success logs a debug line, increments a counter named after the kind
// and sets the {kind}_time gauge to the elapsed ms, both labelled
// {pluginName, event}. Failure logs an error line
// and returns the error unchanged.
package events

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/plugins"
)

const (
	// PluginName is the name the router logs and records metrics under.
	PluginName = "core-events"
	// DefaultBackendName is the name of the built-in catch-all backend.
	DefaultBackendName = "events-default"
)

// ErrEventsNotReady is returned by router calls made before Init.
var ErrEventsNotReady = fmt.Errorf("%w: events", plugins.ErrNotReady)

type binding struct {
	name      string
	backend   Backend
	filter    *plugins.Filter
	isDefault bool
}

// Router is the events subsystem: it owns the backend bindings and
// instruments every call.
type Router struct {
	log     *log.PluginLogger
	metrics *metrics.PluginMetrics

	mu       sync.RWMutex
	bindings []binding
	ready    bool

	counters map[Kind]*metrics.Counter
	gauges   map[Kind]*metrics.Gauge
}

// NewRouter returns a router logging to logger and recording into m.
func NewRouter(logger *log.PluginLogger, m *metrics.PluginMetrics) *Router {
	return &Router{
		log:      logger,
		metrics:  m,
		counters: make(map[Kind]*metrics.Counter),
		gauges:   make(map[Kind]*metrics.Gauge),
	}
}

// AddBackend prepends a backend binding. A nil filter accepts everything.
func (r *Router) AddBackend(name string, b Backend, filter *plugins.Filter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return fmt.Errorf("%w: cannot add events plugin %s", plugins.ErrPhaseCompleted, name)
	}
	for _, bb := range r.bindings {
		if bb.name == name {
			return fmt.Errorf("%w: events plugin %s", plugins.ErrPluginAlreadyExists, name)
		}
	}
	r.log.Debug("Add events {name} as {filterKind}", log.Meta{"name": name, "filterKind": filter.EffectiveKind()})
	r.bindings = append([]binding{{name: name, backend: b, filter: filter}}, r.bindings...)
	return nil
}

// Init appends defaultBackend as the catch-all, unless a backend of that name
// was added already, initializes every backend implementing
// plugins.Initializer and creates the per-kind metrics.
func (r *Router) Init(ctx context.Context, defaultBackend Backend) error {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return nil
	}
	for _, b := range r.bindings {
		if b.name == DefaultBackendName {
			defaultBackend = nil
		}
	}
	if defaultBackend != nil {
		r.log.Info("Adding \"{name}\" as events", log.Meta{"name": DefaultBackendName})
		r.bindings = append(r.bindings, binding{name: DefaultBackendName, backend: defaultBackend, isDefault: true})
	}
	bindings := append([]binding(nil), r.bindings...)
	r.mu.Unlock()

	for _, b := range bindings {
		if in, ok := b.backend.(plugins.Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return plugins.NewPluginError(b.name, "init", "events plugin init failed", err)
			}
		}
	}

	for _, kind := range AllKinds {
		c, err := r.metrics.CreateCounter(string(kind), "events "+string(kind), "count of "+string(kind)+" calls")
		if err != nil {
			return err
		}
		g, err := r.metrics.CreateGauge(string(kind)+"_time", "events "+string(kind)+" time", "duration of the last "+string(kind)+" call in ms")
		if err != nil {
			return err
		}
		r.counters[kind] = c
		r.gauges[kind] = g
	}

	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()
	return nil
}

// Run drops the default backend when another binding accepts everything,
// then runs every backend implementing plugins.Runner.
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	var evicted *binding
	if len(r.bindings) > 1 {
		claimsAll := false
		for _, b := range r.bindings {
			if !b.isDefault && b.filter.EffectiveKind() == plugins.FilterAll {
				claimsAll = true
				break
			}
		}
		if claimsAll {
			kept := r.bindings[:0:0]
			for i := range r.bindings {
				if r.bindings[i].isDefault {
					evicted = &r.bindings[i]
					continue
				}
				kept = append(kept, r.bindings[i])
			}
			r.bindings = kept
		}
	}
	bindings := append([]binding(nil), r.bindings...)
	r.mu.Unlock()

	if evicted != nil {
		r.log.Info("Removing \"{name}\": another events plugin handles all events", log.Meta{"name": evicted.name})
		r.disposeBackend(*evicted)
	}
	for _, b := range bindings {
		if rn, ok := b.backend.(plugins.Runner); ok {
			if err := rn.Run(ctx); err != nil {
				return plugins.NewPluginError(b.name, "run", "events plugin run failed", err)
			}
		}
	}
	return nil
}

// Dispose disposes every bound backend. Panics are recovered and logged.
func (r *Router) Dispose() {
	r.mu.Lock()
	bindings := r.bindings
	r.bindings = nil
	r.ready = false
	r.mu.Unlock()
	for _, b := range bindings {
		r.disposeBackend(b)
	}
}

func (r *Router) disposeBackend(b binding) {
	d, ok := b.backend.(plugins.Disposer)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("events plugin {name} panicked during dispose: {panic}", log.Meta{"name": b.name, "panic": rec})
		}
	}()
	d.Dispose()
}

// Bindings returns the binding names in routing order.
func (r *Router) Bindings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for _, b := range r.bindings {
		names = append(names, b.name)
	}
	return names
}

// Match returns the name of the backend that handles kind for plugin.
func (r *Router) Match(kind Kind, plugin, event string) (string, error) {
	b, err := r.match(kind, Key{Plugin: plugin, Event: event})
	return b.name, err
}

func (r *Router) match(kind Kind, key Key) (binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return binding{}, ErrEventsNotReady
	}
	base := string(kind.Base())
	for _, b := range r.bindings {
		if b.filter.Matches(base, key.Plugin) {
			return b, nil
		}
	}
	return binding{}, plugins.NewTemplateError(ErrNoBackendFound,
		"No plugins found to match event: plugin: {plugin} - eventAs: {eventAs} - event: {event}",
		log.Meta{"plugin": key.Plugin, "eventAs": string(kind), "event": key.EventName()})
}

// observe records the outcome of one timed call.
func (r *Router) observe(kind Kind, backend string, key Key, start time.Time, err error) error {
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e6
	meta := log.Meta{
		"kind":             string(kind),
		"eventsPluginName": backend,
		"pluginName":       key.Plugin,
		"event":            key.EventName(),
		"time":             elapsed,
	}
	if err != nil {
		meta["error"] = err
		r.log.Error("[{eventsPluginName}:{pluginName}:{event}:{kind}] error occurred: {error}", meta)
		return err
	}
	r.log.Debug("{kind}-{eventsPluginName}-{pluginName}-{event}:{time}", meta)
	labels := metrics.Labels{"pluginName": key.Plugin, "event": key.EventName()}
	if c := r.counters[kind]; c != nil {
		_ = c.Inc(1, labels)
	}
	if g := r.gauges[kind]; g != nil {
		_ = g.Set(elapsed, labels)
	}
	return nil
}

func (r *Router) wrapListener(kind Kind, backend string, key Key, l Listener) Listener {
	return func(ctx context.Context, traceID string, args []any) error {
		start := time.Now()
		err := safeListener(func() error { return l(ctx, traceID, args) })
		return r.observe(kind, backend, key, start, err)
	}
}

func (r *Router) wrapReturnable(kind Kind, backend string, key Key, l ReturnableListener) ReturnableListener {
	return func(ctx context.Context, traceID string, args []any) (any, error) {
		start := time.Now()
		var out any
		err := safeListener(func() (err error) {
			out, err = l(ctx, traceID, args)
			return err
		})
		if err := r.observe(kind, backend, key, start, err); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// safeListener turns a listener panic into an error.
func safeListener(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panicked: %v", rec)
		}
	}()
	return fn()
}

func (r *Router) onEvent(ctx context.Context, kind Kind, key Key, l Listener) error {
	b, err := r.match(kind, key)
	if err != nil {
		return err
	}
	return b.backend.OnEvent(ctx, key, r.wrapListener(kind, b.name, key, l))
}

func (r *Router) emitEvent(ctx context.Context, kind Kind, key Key, traceID string, args []any) error {
	start := time.Now()
	b, err := r.match(kind, key)
	if err != nil {
		return err
	}
	return r.observe(kind, b.name, key, start, b.backend.EmitEvent(ctx, key, traceID, args))
}

func (r *Router) onReturnable(ctx context.Context, kind Kind, key Key, l ReturnableListener) error {
	b, err := r.match(kind, key)
	if err != nil {
		return err
	}
	return b.backend.OnReturnableEvent(ctx, key, r.wrapReturnable(kind, b.name, key, l))
}

func (r *Router) emitAndReturn(ctx context.Context, kind Kind, key Key, traceID string, timeout time.Duration, args []any) (any, error) {
	start := time.Now()
	b, err := r.match(kind, key)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	out, err := b.backend.EmitEventAndReturn(ctx, key, traceID, timeout, args)
	if err := r.observe(kind, b.name, key, start, err); err != nil {
		return nil, err
	}
	return out, nil
}

// OnBroadcast registers l for every broadcast of event owned by plugin.
func (r *Router) OnBroadcast(ctx context.Context, plugin, event string, l Listener) error {
	key := Key{Plugin: plugin, Event: event}
	b, err := r.match(KindOnBroadcast, key)
	if err != nil {
		return err
	}
	return b.backend.OnBroadcast(ctx, key, r.wrapListener(KindOnBroadcast, b.name, key, l))
}

// EmitBroadcast delivers args to every broadcast listener of event.
func (r *Router) EmitBroadcast(ctx context.Context, plugin, event, traceID string, args ...any) error {
	start := time.Now()
	key := Key{Plugin: plugin, Event: event}
	b, err := r.match(KindEmitBroadcast, key)
	if err != nil {
		return err
	}
	return r.observe(KindEmitBroadcast, b.name, key, start, b.backend.EmitBroadcast(ctx, key, traceID, args))
}

// OnEvent registers l as a listener of event owned by plugin.
func (r *Router) OnEvent(ctx context.Context, plugin, event string, l Listener) error {
	return r.onEvent(ctx, KindOnEvent, Key{Plugin: plugin, Event: event}, l)
}

// EmitEvent delivers args to the first listener of event.
func (r *Router) EmitEvent(ctx context.Context, plugin, event, traceID string, args ...any) error {
	return r.emitEvent(ctx, KindEmitEvent, Key{Plugin: plugin, Event: event}, traceID, args)
}

// OnEventSpecific registers l for event addressed to serverID.
func (r *Router) OnEventSpecific(ctx context.Context, serverID, plugin, event string, l Listener) error {
	return r.onEvent(ctx, KindOnEventSpecific, Key{Plugin: plugin, Event: event, ServerID: serverID}, l)
}

// EmitEventSpecific delivers args to the first listener of event at serverID.
func (r *Router) EmitEventSpecific(ctx context.Context, serverID, plugin, event, traceID string, args ...any) error {
	return r.emitEvent(ctx, KindEmitEventSpecific, Key{Plugin: plugin, Event: event, ServerID: serverID}, traceID, args)
}

// OnReturnableEvent registers l as the responder of event owned by plugin.
func (r *Router) OnReturnableEvent(ctx context.Context, plugin, event string, l ReturnableListener) error {
	return r.onReturnable(ctx, KindOnReturnableEvent, Key{Plugin: plugin, Event: event}, l)
}

// EmitEventAndReturn sends args to the responder of event and waits for its
// answer. A zero timeout selects DefaultTimeout; expiry yields ErrTimeout.
func (r *Router) EmitEventAndReturn(ctx context.Context, plugin, event, traceID string, timeout time.Duration, args ...any) (any, error) {
	return r.emitAndReturn(ctx, KindEmitEventAndReturn, Key{Plugin: plugin, Event: event}, traceID, timeout, args)
}

// OnReturnableEventSpecific registers l as the responder of event at serverID.
func (r *Router) OnReturnableEventSpecific(ctx context.Context, serverID, plugin, event string, l ReturnableListener) error {
	return r.onReturnable(ctx, KindOnReturnableEventSpecific, Key{Plugin: plugin, Event: event, ServerID: serverID}, l)
}

// EmitEventAndReturnSpecific is EmitEventAndReturn addressed to serverID.
func (r *Router) EmitEventAndReturnSpecific(ctx context.Context, serverID, plugin, event, traceID string, timeout time.Duration, args ...any) (any, error) {
	return r.emitAndReturn(ctx, KindEmitEventAndReturnSpecific, Key{Plugin: plugin, Event: event, ServerID: serverID}, traceID, timeout, args)
}

// ReceiveStream registers l as a one-shot stream receiver and returns the
// stream id a sender must target. A zero timeout selects DefaultTimeout.
func (r *Router) ReceiveStream(ctx context.Context, plugin, event string, l StreamListener, timeout time.Duration) (string, error) {
	key := Key{Plugin: plugin, Event: event}
	b, err := r.match(KindReceiveStream, key)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wrapped := func(ctx context.Context, streamErr error, rd io.Reader) error {
		start := time.Now()
		err := safeListener(func() error { return l(ctx, streamErr, rd) })
		return r.observe(KindReceiveStream, b.name, key, start, err)
	}
	return b.backend.ReceiveStream(ctx, key, wrapped, timeout)
}

// SendStream sends rd to the receiver registered under streamID.
func (r *Router) SendStream(ctx context.Context, plugin, event, streamID string, rd io.Reader) error {
	start := time.Now()
	key := Key{Plugin: plugin, Event: event}
	b, err := r.match(KindSendStream, key)
	if err != nil {
		return err
	}
	return r.observe(KindSendStream, b.name, key, start, b.backend.SendStream(ctx, key, streamID, rd))
}
