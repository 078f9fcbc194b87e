package events_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/events/memory"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/plugins"
)

// counterRecorder captures counter and gauge updates.
type counterRecorder struct {
	metrics.NopBackend
	mu      sync.Mutex
	created []string
	updates []metrics.MetricUpdate
}

func (c *counterRecorder) CreateCounter(_ time.Time, d metrics.MetricDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, d.Name)
	return nil
}

func (c *counterRecorder) UpdateCounter(_ time.Time, u metrics.MetricUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return nil
}

func (c *counterRecorder) UpdateGauge(_ time.Time, u metrics.MetricUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
	return nil
}

func (c *counterRecorder) find(name string, op metrics.Op) []metrics.MetricUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []metrics.MetricUpdate
	for _, u := range c.updates {
		if u.Name == name && u.Op == op {
			out = append(out, u)
		}
	}
	return out
}

// disposable is a Backend that only records Dispose and handles everything
// through an inner memory backend.
type disposable struct {
	*memory.Backend
	disposed bool
}

func (d *disposable) Dispose() {
	d.disposed = true
	d.Backend.Dispose()
}

type fixture struct {
	router  *events.Router
	sink    *log.MemorySink
	bus     *metrics.SBMetrics
	rec     *counterRecorder
	logging *log.SBLogging
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sink := log.NewMemorySink()
	lg := log.NewSBLogging(plugins.ModeDevelopment, sink)
	bus := metrics.NewSBMetrics(lg.Logger(metrics.PluginName))
	rec := &counterRecorder{}
	require.NoError(t, bus.AddBackend("rec", rec))
	require.NoError(t, bus.Init(context.Background()))
	t.Cleanup(bus.Dispose)
	r := events.NewRouter(lg.Logger(events.PluginName), bus.Metrics(events.PluginName))
	t.Cleanup(r.Dispose)
	return &fixture{router: r, sink: sink, bus: bus, rec: rec, logging: lg}
}

func (f *fixture) memory(t *testing.T, name string) *memory.Backend {
	t.Helper()
	b, err := memory.New(memory.Config{Workers: 2}, f.logging.Logger(name))
	require.NoError(t, err)
	return b
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.bus.Flush(ctx))
}

func TestCallsBeforeInitAreNotReady(t *testing.T) {
	f := newFixture(t)
	err := f.router.EmitEvent(context.Background(), "a", "e", "t")
	assert.ErrorIs(t, err, plugins.ErrNotReady)
	assert.ErrorIs(t, err, events.ErrEventsNotReady)
}

func TestBindingOrderAndDefaultLast(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.AddBackend("events-x", f.memory(t, "events-x"), &plugins.Filter{Kind: plugins.FilterEvents, Kinds: []string{"emitEvent"}}))
	require.NoError(t, f.router.AddBackend("events-y", f.memory(t, "events-y"), &plugins.Filter{Kind: plugins.FilterEvents, Kinds: []string{"emitEvent", "onEvent"}}))
	assert.ErrorIs(t, f.router.AddBackend("events-y", f.memory(t, "events-y"), nil), plugins.ErrPluginAlreadyExists)
	require.NoError(t, f.router.Init(context.Background(), f.memory(t, memory.Name)))

	assert.Equal(t, []string{"events-y", "events-x", events.DefaultBackendName}, f.router.Bindings())

	name, err := f.router.Match(events.KindEmitEvent, "a", "e")
	require.NoError(t, err)
	assert.Equal(t, "events-y", name, "first binding in list order wins")

	name, err = f.router.Match(events.KindEmitBroadcast, "a", "e")
	require.NoError(t, err)
	assert.Equal(t, events.DefaultBackendName, name)

	name, err = f.router.Match(events.KindOnEventSpecific, "a", "e")
	require.NoError(t, err)
	assert.Equal(t, "events-y", name, "specific kinds route as their base kind")

	assert.ErrorIs(t, f.router.AddBackend("late", f.memory(t, "late"), nil), plugins.ErrPhaseCompleted)
}

func TestDetailedFilterRouting(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		f := newFixture(t)
		filter := &plugins.Filter{Kind: plugins.FilterEventsDetailed, Detailed: map[string]plugins.DetailedRule{
			"onEvent": {Enabled: enabled, Plugins: []string{"a"}},
		}}
		require.NoError(t, f.router.AddBackend("events-detailed", f.memory(t, "events-detailed"), filter))
		require.NoError(t, f.router.Init(context.Background(), nil))

		name, err := f.router.Match(events.KindOnEvent, "a", "e")
		if enabled {
			require.NoError(t, err)
			assert.Equal(t, "events-detailed", name)
		} else {
			assert.ErrorIs(t, err, events.ErrNoBackendFound)
		}
		_, err = f.router.Match(events.KindOnEvent, "b", "e")
		assert.ErrorIs(t, err, events.ErrNoBackendFound)
	}
}

func TestNoBackendFoundMessage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.router.AddBackend("events-x", f.memory(t, "events-x"), &plugins.Filter{Kind: plugins.FilterEvents, Kinds: []string{"onEvent"}}))
	require.NoError(t, f.router.Init(context.Background(), nil))

	err := f.router.EmitEvent(context.Background(), "svc", "ping", "t")
	require.Error(t, err)
	assert.ErrorIs(t, err, plugins.ErrConfiguration)
	assert.Equal(t, "No plugins found to match event: plugin: svc - eventAs: emitEvent - event: ping", err.Error())
}

func TestDefaultEvictedWhenAnotherClaimsAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := &disposable{Backend: f.memory(t, memory.Name)}
	require.NoError(t, f.router.AddBackend("events-other", f.memory(t, "events-other"), nil))
	require.NoError(t, f.router.Init(ctx, def))
	require.Equal(t, []string{"events-other", events.DefaultBackendName}, f.router.Bindings())

	require.NoError(t, f.router.Run(ctx))
	assert.Equal(t, []string{"events-other"}, f.router.Bindings())
	assert.True(t, def.disposed)

	require.NoError(t, f.router.OnReturnableEvent(ctx, "a", "sum", func(_ context.Context, _ string, args []any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	}))
	out, err := f.router.EmitEventAndReturn(ctx, "a", "sum", "t", time.Second, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

func TestDefaultKeptWhenOthersAreFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.AddBackend("events-x", f.memory(t, "events-x"), &plugins.Filter{Kind: plugins.FilterEvents, Kinds: []string{"onEvent"}}))
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))
	require.NoError(t, f.router.Run(ctx))
	assert.Equal(t, []string{"events-x", events.DefaultBackendName}, f.router.Bindings())
}

func TestEmitIsInstrumented(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))

	got := make(chan []any, 1)
	require.NoError(t, f.router.OnEvent(ctx, "svc", "ping", func(_ context.Context, _ string, args []any) error {
		got <- args
		return nil
	}))
	require.NoError(t, f.router.EmitEvent(ctx, "svc", "ping", "trace-1", "hello", 1))
	select {
	case args := <-got:
		assert.Equal(t, []any{"hello", 1}, args)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	require.Eventually(t, func() bool {
		return len(f.sink.Find(log.DebugLevel, "onEvent-events-default-svc-ping:")) == 1
	}, time.Second, 5*time.Millisecond)
	f.flush(t)

	f.rec.mu.Lock()
	created := append([]string(nil), f.rec.created...)
	f.rec.mu.Unlock()
	assert.Len(t, created, len(events.AllKinds))
	assert.Contains(t, created, "emitEvent")

	emits := f.rec.find("emitEvent", metrics.OpInc)
	require.Len(t, emits, 1)
	assert.Equal(t, events.PluginName, emits[0].Plugin)
	assert.Equal(t, metrics.Labels{"pluginName": "svc", "event": "ping"}, emits[0].Labels)
	assert.Len(t, f.rec.find("emitEvent_time", metrics.OpSet), 1)
	assert.NotEmpty(t, f.sink.Find(log.DebugLevel, "emitEvent-events-default-svc-ping:"))
}

func TestHandlerErrorIsLoggedAndPropagated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))

	boom := errors.New("boom")
	require.NoError(t, f.router.OnReturnableEvent(ctx, "svc", "fail", func(context.Context, string, []any) (any, error) {
		return nil, boom
	}))
	_, err := f.router.EmitEventAndReturn(ctx, "svc", "fail", "t", time.Second)
	assert.Same(t, boom, err)
	assert.Len(t, f.sink.Find(log.ErrorLevel, "[events-default:svc:fail:onReturnableEvent] error occurred: boom"), 1)
	assert.Len(t, f.sink.Find(log.ErrorLevel, "[events-default:svc:fail:emitEventAndReturn] error occurred: boom"), 1)
}

func TestListenerPanicBecomesError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))
	require.NoError(t, f.router.OnReturnableEvent(ctx, "svc", "panic", func(context.Context, string, []any) (any, error) {
		panic("bad")
	}))
	_, err := f.router.EmitEventAndReturn(ctx, "svc", "panic", "t", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestReturnableTimeoutThroughRouter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))
	_, err := f.router.For("svc").EmitEventAndReturn(ctx, "nobody", "t", 20*time.Millisecond)
	assert.ErrorIs(t, err, events.ErrTimeout)
}

func TestSpecificEventsAreAddressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))
	pe := f.router.For("svc")

	require.NoError(t, pe.OnReturnableEventSpecific(ctx, "node-1", "who", func(context.Context, string, []any) (any, error) {
		return "node-1", nil
	}))
	require.NoError(t, pe.OnReturnableEventSpecific(ctx, "node-2", "who", func(context.Context, string, []any) (any, error) {
		return "node-2", nil
	}))
	out, err := pe.EmitEventAndReturnSpecific(ctx, "node-2", "who", "t", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "node-2", out)

	_, err = pe.EmitEventAndReturn(ctx, "who", "t", 20*time.Millisecond)
	assert.ErrorIs(t, err, events.ErrTimeout)
}

func TestBroadcastAndStreamThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.router.Init(ctx, f.memory(t, memory.Name)))
	pe := f.router.For("svc")
	assert.Equal(t, "svc", pe.Plugin())

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, pe.OnBroadcast(ctx, "tick", func(context.Context, string, []any) error {
			wg.Done()
			return nil
		}))
	}
	require.NoError(t, pe.EmitBroadcast(ctx, "tick", "t"))
	wg.Wait()

	var body string
	id, err := pe.ReceiveStream(ctx, "file", func(_ context.Context, err error, r io.Reader) error {
		if err != nil {
			return err
		}
		data, err := io.ReadAll(r)
		body = string(data)
		return err
	}, time.Second)
	require.NoError(t, err)
	require.NoError(t, pe.SendStream(ctx, "file", id, strings.NewReader("content")))
	assert.Equal(t, "content", body)
}
