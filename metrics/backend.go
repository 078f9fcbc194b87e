// Package metrics is the servicebase metrics and tracing facade.
//
// Plugins get a PluginMetrics bound to their name. Creation, update and
// trace calls are turned into bus messages stamped with the call time and
// fanned out by SBMetrics to every registered Backend, each backend
// receiving messages in publish order on its own subscription. Backend
// errors are logged and never reach the instrumented caller.
package metrics

import (
	"time"
)

// Labels are metric label values keyed by label name.
type Labels = map[string]string

// Attributes are trace and span attributes.
type Attributes = map[string]string

// Op is the update operation carried by a MetricUpdate.
type Op string

const (
	OpInc    Op = "inc"
	OpDec    Op = "dec"
	OpSet    Op = "set"
	OpRecord Op = "record"
)

// MetricDef describes a metric being created.
type MetricDef struct {
	Plugin      string
	Name        string
	Description string
	Help        string
	// Labels are the label names declared at creation, may be empty.
	Labels []string
	// Boundaries are histogram bucket upper bounds, may be empty.
	Boundaries []float64
}

// MetricUpdate is one update of an existing metric.
type MetricUpdate struct {
	Plugin string
	Name   string
	Op     Op
	Value  float64
	Labels Labels
}

// TraceEvent describes a trace or span transition.
type TraceEvent struct {
	Plugin       string
	TraceID      string
	SpanID       string
	ParentSpanID string
	Name         string
	Attributes   Attributes
	Err          error
}

// Backend is the metrics backend contract. ts is the time the instrumented
// call was made, not the time the message is delivered.
type Backend interface {
	CreateCounter(ts time.Time, def MetricDef) error
	CreateGauge(ts time.Time, def MetricDef) error
	CreateHistogram(ts time.Time, def MetricDef) error
	UpdateCounter(ts time.Time, u MetricUpdate) error
	UpdateGauge(ts time.Time, u MetricUpdate) error
	UpdateHistogram(ts time.Time, u MetricUpdate) error
	StartTrace(ts time.Time, ev TraceEvent) error
	EndTrace(ts time.Time, ev TraceEvent) error
	StartSpan(ts time.Time, ev TraceEvent) error
	EndSpan(ts time.Time, ev TraceEvent) error
	ErrorSpan(ts time.Time, ev TraceEvent) error
}

// NopBackend ignores everything. Embed it to implement only part of Backend.
type NopBackend struct{}

func (NopBackend) CreateCounter(time.Time, MetricDef) error      { return nil }
func (NopBackend) CreateGauge(time.Time, MetricDef) error        { return nil }
func (NopBackend) CreateHistogram(time.Time, MetricDef) error    { return nil }
func (NopBackend) UpdateCounter(time.Time, MetricUpdate) error   { return nil }
func (NopBackend) UpdateGauge(time.Time, MetricUpdate) error     { return nil }
func (NopBackend) UpdateHistogram(time.Time, MetricUpdate) error { return nil }
func (NopBackend) StartTrace(time.Time, TraceEvent) error        { return nil }
func (NopBackend) EndTrace(time.Time, TraceEvent) error          { return nil }
func (NopBackend) StartSpan(time.Time, TraceEvent) error         { return nil }
func (NopBackend) EndSpan(time.Time, TraceEvent) error           { return nil }
func (NopBackend) ErrorSpan(time.Time, TraceEvent) error         { return nil }
