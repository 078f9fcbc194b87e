package metrics

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelindar/event"

	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

// PluginName is the name the metrics subsystem logs under.
const PluginName = "core-metrics"

type busOp uint8

const (
	opCreateCounter busOp = iota + 1
	opCreateGauge
	opCreateHistogram
	opUpdateCounter
	opUpdateGauge
	opUpdateHistogram
	opStartTrace
	opEndTrace
	opStartSpan
	opEndSpan
	opErrorSpan
)

var busOpNames = map[busOp]string{
	opCreateCounter:   "createCounter",
	opCreateGauge:     "createGauge",
	opCreateHistogram: "createHistogram",
	opUpdateCounter:   "updateCounter",
	opUpdateGauge:     "updateGauge",
	opUpdateHistogram: "updateHistogram",
	opStartTrace:      "startTrace",
	opEndTrace:        "endTrace",
	opStartSpan:       "startSpan",
	opEndSpan:         "endSpan",
	opErrorSpan:       "errorSpan",
}

func (o busOp) String() string { return busOpNames[o] }

const busMessageType uint32 = 0x5b4d // all bus traffic shares one dispatcher type

// busMessage is one bus announcement. Exactly one of def, update or trace is
// meaningful depending on op.
type busMessage struct {
	op     busOp
	ts     time.Time
	def    MetricDef
	update MetricUpdate
	trace  TraceEvent
}

// Type implements event.Event.
func (busMessage) Type() uint32 { return busMessageType }

type backendBinding struct {
	name    string
	backend Backend
	cancel  context.CancelFunc
}

type metricKey struct {
	kind   busOp
	plugin string
	name   string
}

// SBMetrics owns the metrics bus and the registered metrics backends.
type SBMetrics struct {
	log        *log.PluginLogger
	dispatcher *event.Dispatcher

	mu       sync.Mutex
	backends []*backendBinding
	created  map[metricKey]any

	ready    atomic.Bool
	disposed atomic.Bool
	pending  atomic.Int64
}

// NewSBMetrics returns a metrics bus that logs backend failures to logger.
func NewSBMetrics(logger *log.PluginLogger) *SBMetrics {
	return &SBMetrics{
		log:        logger,
		dispatcher: event.NewDispatcher(),
		created:    make(map[metricKey]any),
	}
}

// AddBackend registers a metrics backend. Only allowed before Init.
func (m *SBMetrics) AddBackend(name string, b Backend) error {
	if m.ready.Load() || m.disposed.Load() {
		return fmt.Errorf("%w: cannot add metrics plugin %s", plugins.ErrPhaseCompleted, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bb := range m.backends {
		if bb.name == name {
			return fmt.Errorf("%w: metrics plugin %s", plugins.ErrPluginAlreadyExists, name)
		}
	}
	bb := &backendBinding{name: name, backend: b}
	bb.cancel = event.Subscribe(m.dispatcher, func(msg busMessage) {
		defer m.pending.Add(-1)
		m.deliver(bb, msg)
	})
	m.backends = append(m.backends, bb)
	return nil
}

// Backends returns the registered backend names in registration order.
func (m *SBMetrics) Backends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.backends))
	for _, bb := range m.backends {
		names = append(names, bb.name)
	}
	return names
}

// Backend returns the backend registered as name, for reaching
// backend-specific surfaces such as a Prometheus gatherer.
func (m *SBMetrics) Backend(name string) (Backend, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bb := range m.backends {
		if bb.name == name {
			return bb.backend, true
		}
	}
	return nil, false
}

// Init initializes every backend implementing plugins.Initializer, then marks
// the subsystem ready.
func (m *SBMetrics) Init(ctx context.Context) error {
	m.mu.Lock()
	backends := append([]*backendBinding(nil), m.backends...)
	m.mu.Unlock()
	for _, bb := range backends {
		if in, ok := bb.backend.(plugins.Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return plugins.NewPluginError(bb.name, "init", "metrics plugin init failed", err)
			}
		}
	}
	m.ready.Store(true)
	return nil
}

// Ready reports whether metric calls are accepted.
func (m *SBMetrics) Ready() bool { return m.ready.Load() && !m.disposed.Load() }

// Metrics returns the facade bound to plugin.
func (m *SBMetrics) Metrics(plugin string) *PluginMetrics {
	return &PluginMetrics{plugin: plugin, pluginSim: plugins.SimplifyName(plugin), bus: m}
}

// Flush blocks until every published message has been handed to every
// backend, or ctx is done.
func (m *SBMetrics) Flush(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for m.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Dispose flushes the bus (bounded), stops every subscription and disposes the
// backends. Safe to call more than once.
func (m *SBMetrics) Dispose() {
	if m.disposed.Swap(true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.Flush(ctx); err != nil {
		m.log.Warn("metrics bus not drained before dispose: {error}", log.Meta{"error": err})
	}
	cancel()

	m.mu.Lock()
	backends := m.backends
	m.backends = nil
	m.mu.Unlock()

	for _, bb := range backends {
		bb.cancel()
		if d, ok := bb.backend.(plugins.Disposer); ok {
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("metrics plugin {name} panicked during dispose: {panic}", log.Meta{"name": bb.name, "panic": r})
					}
				}()
				d.Dispose()
			}()
		}
	}
	_ = m.dispatcher.Close()
}

// register returns the handle already created for key, or stores and
// announces the one built by mk.
func (m *SBMetrics) register(key metricKey, mk func() any, announce busMessage) any {
	m.mu.Lock()
	if h, ok := m.created[key]; ok {
		m.mu.Unlock()
		return h
	}
	h := mk()
	m.created[key] = h
	m.mu.Unlock()
	m.publish(announce)
	return h
}

func (m *SBMetrics) publish(msg busMessage) {
	m.mu.Lock()
	n := len(m.backends)
	m.mu.Unlock()
	if n == 0 {
		return
	}
	m.pending.Add(int64(n))
	event.Publish(m.dispatcher, msg)
}

func (m *SBMetrics) deliver(bb *backendBinding, msg busMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("metrics plugin {name} panicked on {op}: {panic}", log.Meta{"name": bb.name, "op": msg.op.String(), "panic": r})
		}
	}()
	var err error
	b := bb.backend
	switch msg.op {
	case opCreateCounter:
		err = b.CreateCounter(msg.ts, msg.def)
	case opCreateGauge:
		err = b.CreateGauge(msg.ts, msg.def)
	case opCreateHistogram:
		err = b.CreateHistogram(msg.ts, msg.def)
	case opUpdateCounter:
		err = b.UpdateCounter(msg.ts, msg.update)
	case opUpdateGauge:
		err = b.UpdateGauge(msg.ts, msg.update)
	case opUpdateHistogram:
		err = b.UpdateHistogram(msg.ts, msg.update)
	case opStartTrace:
		err = b.StartTrace(msg.ts, msg.trace)
	case opEndTrace:
		err = b.EndTrace(msg.ts, msg.trace)
	case opStartSpan:
		err = b.StartSpan(msg.ts, msg.trace)
	case opEndSpan:
		err = b.EndSpan(msg.ts, msg.trace)
	case opErrorSpan:
		err = b.ErrorSpan(msg.ts, msg.trace)
	}
	if err != nil {
		m.log.Error("metrics plugin {name} failed on {op}: {error}", log.Meta{"name": bb.name, "op": msg.op.String(), "error": err})
	}
}
