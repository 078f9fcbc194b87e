package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

type call struct {
	op    string
	ts    time.Time
	def   MetricDef
	upd   MetricUpdate
	trace TraceEvent
}

// recorder is a Backend capturing every call in delivery order.
type recorder struct {
	mu    sync.Mutex
	calls []call
	fail  bool
}

func (r *recorder) add(c call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if r.fail {
		return errors.New("backend down")
	}
	return nil
}

func (r *recorder) ops(op string) []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []call
	for _, c := range r.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) CreateCounter(ts time.Time, d MetricDef) error {
	return r.add(call{op: "createCounter", ts: ts, def: d})
}
func (r *recorder) CreateGauge(ts time.Time, d MetricDef) error {
	return r.add(call{op: "createGauge", ts: ts, def: d})
}
func (r *recorder) CreateHistogram(ts time.Time, d MetricDef) error {
	return r.add(call{op: "createHistogram", ts: ts, def: d})
}
func (r *recorder) UpdateCounter(ts time.Time, u MetricUpdate) error {
	return r.add(call{op: "updateCounter", ts: ts, upd: u})
}
func (r *recorder) UpdateGauge(ts time.Time, u MetricUpdate) error {
	return r.add(call{op: "updateGauge", ts: ts, upd: u})
}
func (r *recorder) UpdateHistogram(ts time.Time, u MetricUpdate) error {
	return r.add(call{op: "updateHistogram", ts: ts, upd: u})
}
func (r *recorder) StartTrace(ts time.Time, e TraceEvent) error {
	return r.add(call{op: "startTrace", ts: ts, trace: e})
}
func (r *recorder) EndTrace(ts time.Time, e TraceEvent) error {
	return r.add(call{op: "endTrace", ts: ts, trace: e})
}
func (r *recorder) StartSpan(ts time.Time, e TraceEvent) error {
	return r.add(call{op: "startSpan", ts: ts, trace: e})
}
func (r *recorder) EndSpan(ts time.Time, e TraceEvent) error {
	return r.add(call{op: "endSpan", ts: ts, trace: e})
}
func (r *recorder) ErrorSpan(ts time.Time, e TraceEvent) error {
	return r.add(call{op: "errorSpan", ts: ts, trace: e})
}

func newBus(t *testing.T, backends ...Backend) (*SBMetrics, *log.MemorySink) {
	t.Helper()
	sink := log.NewMemorySink()
	logging := log.NewSBLogging(plugins.ModeDevelopment, sink)
	m := NewSBMetrics(logging.Logger(PluginName))
	for i, b := range backends {
		require.NoError(t, m.AddBackend("backend-"+string(rune('a'+i)), b))
	}
	require.NoError(t, m.Init(context.Background()))
	t.Cleanup(m.Dispose)
	return m, sink
}

func flush(t *testing.T, m *SBMetrics) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Flush(ctx))
}

func TestNotReady(t *testing.T) {
	m := NewSBMetrics(log.NewSBLogging(plugins.ModeDevelopment, log.NewMemorySink()).Logger(PluginName))
	pm := m.Metrics("svc")

	_, err := pm.CreateCounter("c", "d", "h")
	assert.ErrorIs(t, err, ErrMetricsNotReady)
	assert.ErrorIs(t, err, plugins.ErrNotReady)
	_, err = pm.CreateGauge("g", "d", "h")
	assert.ErrorIs(t, err, ErrMetricsNotReady)
	_, err = pm.CreateHistogram("h", "d", "h", nil)
	assert.ErrorIs(t, err, ErrMetricsNotReady)
	_, err = pm.CreateTrace("")
	assert.ErrorIs(t, err, ErrMetricsNotReady)
	_, err = pm.CreateTimer()
	assert.ErrorIs(t, err, ErrMetricsNotReady)
}

func TestCreateCounterIsIdempotent(t *testing.T) {
	rec := &recorder{}
	m, _ := newBus(t, rec)
	pm := m.Metrics("svc")

	c1, err := pm.CreateCounter("requests", "desc", "help")
	require.NoError(t, err)
	c2, err := pm.CreateCounter("requests", "desc", "help")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	// same name under another plugin is another metric
	_, err = m.Metrics("other").CreateCounter("requests", "desc", "help")
	require.NoError(t, err)

	flush(t, m)
	creates := rec.ops("createCounter")
	require.Len(t, creates, 2)
	assert.Equal(t, "svc", creates[0].def.Plugin)
	assert.Equal(t, "other", creates[1].def.Plugin)
}

func TestUpdatesFanOutInOrderToEveryBackend(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m, _ := newBus(t, a, b)
	pm := m.Metrics("svc")

	g, err := pm.CreateGauge("depth", "d", "h", "queue")
	require.NoError(t, err)
	require.NoError(t, g.Set(5, Labels{"queue": "q1"}))
	require.NoError(t, g.Increment(2, Labels{"queue": "q1"}))
	require.NoError(t, g.Decrement(1, Labels{"queue": "q1"}))

	h, err := pm.CreateHistogram("latency", "d", "h", []float64{1, 10})
	require.NoError(t, err)
	require.NoError(t, h.Record(3, nil))

	c, err := pm.CreateCounter("hits", "d", "h")
	require.NoError(t, err)
	require.NoError(t, c.Inc(1, nil))

	flush(t, m)
	for _, r := range []*recorder{a, b} {
		ups := r.ops("updateGauge")
		require.Len(t, ups, 3)
		assert.Equal(t, []Op{OpSet, OpInc, OpDec}, []Op{ups[0].upd.Op, ups[1].upd.Op, ups[2].upd.Op})
		assert.Equal(t, "q1", ups[0].upd.Labels["queue"])
		assert.False(t, ups[0].ts.IsZero())

		hist := r.ops("createHistogram")
		require.Len(t, hist, 1)
		assert.Equal(t, []float64{1, 10}, hist[0].def.Boundaries)
		assert.Equal(t, OpRecord, r.ops("updateHistogram")[0].upd.Op)
		assert.Equal(t, float64(1), r.ops("updateCounter")[0].upd.Value)
		assert.Equal(t, []string{"queue"}, r.ops("createGauge")[0].def.Labels)
	}
}

func TestTraceRootOnlyAnnouncement(t *testing.T) {
	rec := &recorder{}
	m, _ := newBus(t, rec)
	pm := m.Metrics("My Service")

	tr, err := pm.CreateTrace("")
	require.NoError(t, err)
	assert.Regexp(t, `^my-service-`, tr.ID())

	span, err := tr.CreateSpan("work", "", Attributes{"k": "v"})
	require.NoError(t, err)
	assert.Contains(t, span.ID(), tr.ID()+":")

	continued, err := pm.CreateTrace(tr.ID())
	require.NoError(t, err)
	same, err := continued.CreateSpan("work", span.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, span.ID(), same.ID())

	child, err := span.CreateSpan("child", nil)
	require.NoError(t, err)

	require.NoError(t, same.End(Attributes{"done": "yes"}))
	require.NoError(t, child.Error(errors.New("boom"), nil))
	require.NoError(t, tr.End(nil))

	flush(t, m)
	assert.Len(t, rec.ops("startTrace"), 1)
	starts := rec.ops("startSpan")
	require.Len(t, starts, 2)
	assert.Equal(t, span.ID(), starts[0].trace.SpanID)
	assert.Equal(t, span.ID(), starts[1].trace.ParentSpanID)

	ends := rec.ops("endSpan")
	require.Len(t, ends, 1)
	assert.Equal(t, "yes", ends[0].trace.Attributes["done"])

	errs := rec.ops("errorSpan")
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0].trace.Err, "boom")
	assert.Len(t, rec.ops("endTrace"), 1)
}

func TestBackendErrorIsLoggedNotReturned(t *testing.T) {
	rec := &recorder{fail: true}
	m, sink := newBus(t, rec)

	c, err := m.Metrics("svc").CreateCounter("c", "d", "h")
	require.NoError(t, err)
	require.NoError(t, c.Inc(1, nil))

	flush(t, m)
	assert.NotEmpty(t, sink.Find(log.ErrorLevel, "backend down"))
}

func TestAddBackendAfterInit(t *testing.T) {
	m, _ := newBus(t)
	assert.ErrorIs(t, m.AddBackend("late", NopBackend{}), plugins.ErrPhaseCompleted)
}

func TestDisposeStopsAcceptingCalls(t *testing.T) {
	rec := &recorder{}
	m, _ := newBus(t, rec)
	pm := m.Metrics("svc")
	c, err := pm.CreateCounter("c", "d", "h")
	require.NoError(t, err)

	m.Dispose()
	m.Dispose()
	assert.ErrorIs(t, c.Inc(1, nil), ErrMetricsNotReady)
	assert.Len(t, rec.ops("createCounter"), 1)
}

func TestTimer(t *testing.T) {
	m, _ := newBus(t)
	timer, err := m.Metrics("svc").CreateTimer()
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	ms := timer.Stop()
	assert.GreaterOrEqual(t, ms, 5.0)
	assert.Less(t, ms, 5000.0)
}
