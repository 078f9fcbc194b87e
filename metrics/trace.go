package metrics

import (
	"time"

	"github.com/google/uuid"
)

// Trace groups spans of one logical operation. Only the root instance of a
// trace announces startTrace; a Trace built from an existing id continues it.
type Trace struct {
	p  *PluginMetrics
	id string
}

// Span is one timed step of a trace.
type Span struct {
	trace *Trace
	id    string
	name  string
	attrs Attributes
}

// CreateTrace starts a new trace, or continues parentID when it is not empty.
// Continuing does not announce startTrace again.
func (p *PluginMetrics) CreateTrace(parentID string) (*Trace, error) {
	if !p.bus.Ready() {
		return nil, ErrMetricsNotReady
	}
	if parentID != "" {
		return &Trace{p: p, id: parentID}, nil
	}
	t := &Trace{p: p, id: p.pluginSim + "-" + newID()}
	p.bus.publish(busMessage{op: opStartTrace, ts: time.Now(), trace: TraceEvent{Plugin: p.plugin, TraceID: t.id}})
	return t, nil
}

// ID returns the trace id.
func (t *Trace) ID() string { return t.id }

// CreateSpan starts a span named name. When parentSpanID is not empty the span
// continues that id and startSpan is not announced again.
func (t *Trace) CreateSpan(name, parentSpanID string, attrs Attributes) (*Span, error) {
	if parentSpanID != "" {
		if !t.p.bus.Ready() {
			return nil, ErrMetricsNotReady
		}
		return &Span{trace: t, id: parentSpanID, name: name, attrs: attrs}, nil
	}
	return t.startSpan(name, "", attrs)
}

func (t *Trace) startSpan(name, parent string, attrs Attributes) (*Span, error) {
	if !t.p.bus.Ready() {
		return nil, ErrMetricsNotReady
	}
	s := &Span{trace: t, id: t.id + ":" + newID(), name: name, attrs: attrs}
	t.p.bus.publish(busMessage{op: opStartSpan, ts: time.Now(), trace: TraceEvent{
		Plugin:       t.p.plugin,
		TraceID:      t.id,
		SpanID:       s.id,
		ParentSpanID: parent,
		Name:         name,
		Attributes:   attrs,
	}})
	return s, nil
}

// End announces the end of the trace.
func (t *Trace) End(attrs Attributes) error {
	if !t.p.bus.Ready() {
		return ErrMetricsNotReady
	}
	t.p.bus.publish(busMessage{op: opEndTrace, ts: time.Now(), trace: TraceEvent{Plugin: t.p.plugin, TraceID: t.id, Attributes: attrs}})
	return nil
}

// ID returns the span id.
func (s *Span) ID() string { return s.id }

// TraceID returns the id of the owning trace.
func (s *Span) TraceID() string { return s.trace.id }

// CreateSpan starts a child span of s.
func (s *Span) CreateSpan(name string, attrs Attributes) (*Span, error) {
	return s.trace.startSpan(name, s.id, attrs)
}

// End announces the end of the span. attrs are merged over the creation attributes.
func (s *Span) End(attrs Attributes) error {
	return s.announce(opEndSpan, nil, attrs)
}

// Error announces that the span failed with err. The span is finished by it.
func (s *Span) Error(err error, attrs Attributes) error {
	return s.announce(opErrorSpan, err, attrs)
}

func (s *Span) announce(op busOp, err error, attrs Attributes) error {
	p := s.trace.p
	if !p.bus.Ready() {
		return ErrMetricsNotReady
	}
	p.bus.publish(busMessage{op: op, ts: time.Now(), trace: TraceEvent{
		Plugin:     p.plugin,
		TraceID:    s.trace.id,
		SpanID:     s.id,
		Name:       s.name,
		Attributes: mergeAttributes(s.attrs, attrs),
		Err:        err,
	}})
	return nil
}

func mergeAttributes(base, extra Attributes) Attributes {
	if len(extra) == 0 {
		return base
	}
	if len(base) == 0 {
		return extra
	}
	out := make(Attributes, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// newID returns a time-ordered uuid, falling back to a random one.
func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
