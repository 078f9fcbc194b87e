package metrics

import (
	"slices"
	"time"
)

// PluginMetrics is the metrics facade bound to one plugin.
type PluginMetrics struct {
	plugin    string
	pluginSim string
	bus       *SBMetrics
}

// Plugin returns the plugin name metrics are attributed to.
func (p *PluginMetrics) Plugin() string { return p.plugin }

// Counter is a monotonically increasing metric.
type Counter struct {
	p    *PluginMetrics
	name string
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	p    *PluginMetrics
	name string
}

// Histogram records observations into buckets.
type Histogram struct {
	p    *PluginMetrics
	name string
}

// CreateCounter creates, or returns the already created, counter name.
func (p *PluginMetrics) CreateCounter(name, description, help string, labels ...string) (*Counter, error) {
	if !p.bus.Ready() {
		return nil, ErrMetricsNotReady
	}
	h := p.bus.register(metricKey{opCreateCounter, p.plugin, name},
		func() any { return &Counter{p: p, name: name} },
		p.createMessage(opCreateCounter, name, description, help, nil, labels))
	return h.(*Counter), nil
}

// CreateGauge creates, or returns the already created, gauge name.
func (p *PluginMetrics) CreateGauge(name, description, help string, labels ...string) (*Gauge, error) {
	if !p.bus.Ready() {
		return nil, ErrMetricsNotReady
	}
	h := p.bus.register(metricKey{opCreateGauge, p.plugin, name},
		func() any { return &Gauge{p: p, name: name} },
		p.createMessage(opCreateGauge, name, description, help, nil, labels))
	return h.(*Gauge), nil
}

// CreateHistogram creates, or returns the already created, histogram name.
// Empty boundaries select the backend's default buckets.
func (p *PluginMetrics) CreateHistogram(name, description, help string, boundaries []float64, labels ...string) (*Histogram, error) {
	if !p.bus.Ready() {
		return nil, ErrMetricsNotReady
	}
	h := p.bus.register(metricKey{opCreateHistogram, p.plugin, name},
		func() any { return &Histogram{p: p, name: name} },
		p.createMessage(opCreateHistogram, name, description, help, boundaries, labels))
	return h.(*Histogram), nil
}

func (p *PluginMetrics) createMessage(op busOp, name, description, help string, boundaries []float64, labels []string) busMessage {
	return busMessage{
		op: op,
		ts: time.Now(),
		def: MetricDef{
			Plugin:      p.plugin,
			Name:        name,
			Description: description,
			Help:        help,
			Labels:      slices.Clone(labels),
			Boundaries:  slices.Clone(boundaries),
		},
	}
}

func (p *PluginMetrics) update(op busOp, name string, kind Op, value float64, labels Labels) error {
	if !p.bus.Ready() {
		return ErrMetricsNotReady
	}
	p.bus.publish(busMessage{
		op:     op,
		ts:     time.Now(),
		update: MetricUpdate{Plugin: p.plugin, Name: name, Op: kind, Value: value, Labels: labels},
	})
	return nil
}

// Inc adds value to the counter.
func (c *Counter) Inc(value float64, labels Labels) error {
	return c.p.update(opUpdateCounter, c.name, OpInc, value, labels)
}

// Set sets the gauge to value.
func (g *Gauge) Set(value float64, labels Labels) error {
	return g.p.update(opUpdateGauge, g.name, OpSet, value, labels)
}

// Increment adds value to the gauge.
func (g *Gauge) Increment(value float64, labels Labels) error {
	return g.p.update(opUpdateGauge, g.name, OpInc, value, labels)
}

// Decrement subtracts value from the gauge.
func (g *Gauge) Decrement(value float64, labels Labels) error {
	return g.p.update(opUpdateGauge, g.name, OpDec, value, labels)
}

// Record observes value.
func (h *Histogram) Record(value float64, labels Labels) error {
	return h.p.update(opUpdateHistogram, h.name, OpRecord, value, labels)
}

// Timer is a monotonic stopwatch.
type Timer struct {
	start time.Time
}

// CreateTimer starts a stopwatch.
func (p *PluginMetrics) CreateTimer() (*Timer, error) {
	if !p.bus.Ready() {
		return nil, ErrMetricsNotReady
	}
	return StartTimer(), nil
}

// StartTimer starts a stopwatch without going through a facade.
func StartTimer() *Timer { return &Timer{start: time.Now()} }

// Stop returns the elapsed time in milliseconds with nanosecond resolution.
func (t *Timer) Stop() float64 {
	return float64(time.Since(t.start).Nanoseconds()) / 1e6
}

// Elapsed returns the elapsed time.
func (t *Timer) Elapsed() time.Duration { return time.Since(t.start) }
