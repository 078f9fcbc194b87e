// Package prometheus is the metrics-prometheus backend: counters, gauges and
// histograms announced on the metrics bus are kept in a private Prometheus
// registry. Trace announcements are ignored. The registry is exposed through
// Handler, and served on its own listener when Config.Listen is set.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-lynx/servicebase/metrics"
)

// Name is the plugin name of this backend.
const Name = "metrics-prometheus"

// Config is the plugin configuration.
type Config struct {
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
	// DefaultBuckets are used for histograms created without boundaries.
	DefaultBuckets []float64 `yaml:"defaultBuckets"`
	// Listen is the host:port the scrape endpoint is served on. Empty serves
	// nothing; the registry is then only reachable through Handler.
	Listen string `yaml:"listen"`
	// Path of the scrape endpoint, /metrics when empty.
	Path string `yaml:"path"`
	// IncludeDefault also exposes the process-wide default registry.
	IncludeDefault bool `yaml:"includeDefault"`
}

// Validate implements plugins.Validator.
func (c *Config) Validate() error {
	if c.Namespace != "" && sanitize(c.Namespace) != c.Namespace {
		return fmt.Errorf("namespace %q is not a valid metric name prefix", c.Namespace)
	}
	if c.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("listen %q must be host:port: %w", c.Listen, err)
		}
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	return nil
}

type kind uint8

const (
	kindCounter kind = iota + 1
	kindGauge
	kindHistogram
)

func (k kind) String() string {
	switch k {
	case kindCounter:
		return "counter"
	case kindGauge:
		return "gauge"
	default:
		return "histogram"
	}
}

type key struct {
	plugin string
	name   string
}

// entry is one announced metric. The vector is built, and registered, once its
// label names are known: at creation when declared, otherwise at the first update.
type entry struct {
	kind   kind
	def    metrics.MetricDef
	labels []string

	counter   *prom.CounterVec
	gauge     *prom.GaugeVec
	histogram *prom.HistogramVec
}

// Backend implements metrics.Backend over a prometheus.Registry.
type Backend struct {
	metrics.NopBackend

	cfg      Config
	registry *prom.Registry

	mu      sync.Mutex
	entries map[key]*entry

	server   *http.Server
	listener net.Listener
}

// New returns a backend with its own registry.
func New(cfg Config) *Backend {
	if len(cfg.DefaultBuckets) == 0 {
		cfg.DefaultBuckets = prom.DefBuckets
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
	return &Backend{
		cfg:      cfg,
		registry: prom.NewRegistry(),
		entries:  make(map[key]*entry),
	}
}

// Gatherer returns the registry holding every metric of this backend.
func (b *Backend) Gatherer() prom.Gatherer { return b.registry }

// Registry returns the underlying registry, for registering extra collectors.
func (b *Backend) Registry() *prom.Registry { return b.registry }

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	var g prom.Gatherer = b.registry
	if b.cfg.IncludeDefault {
		g = prom.Gatherers{b.registry, prom.DefaultGatherer}
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Init starts the scrape endpoint when Config.Listen is set.
func (b *Backend) Init(context.Context) error {
	if b.cfg.Listen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", b.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.cfg.Listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle(b.cfg.Path, b.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	b.mu.Lock()
	b.server, b.listener = srv, ln
	b.mu.Unlock()
	go func() {
		_ = srv.Serve(ln)
	}()
	return nil
}

// Addr returns the address the scrape endpoint listens on, or "" when it is
// not serving.
func (b *Backend) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Dispose stops the scrape endpoint.
func (b *Backend) Dispose() {
	b.mu.Lock()
	srv := b.server
	b.server, b.listener = nil, nil
	b.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func (b *Backend) CreateCounter(_ time.Time, def metrics.MetricDef) error {
	return b.create(kindCounter, def)
}

func (b *Backend) CreateGauge(_ time.Time, def metrics.MetricDef) error {
	return b.create(kindGauge, def)
}

func (b *Backend) CreateHistogram(_ time.Time, def metrics.MetricDef) error {
	return b.create(kindHistogram, def)
}

func (b *Backend) create(k kind, def metrics.MetricDef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := key{def.Plugin, def.Name}
	if e, ok := b.entries[id]; ok {
		if e.kind != k {
			return fmt.Errorf("metric %s of plugin %s already exists as a %s", def.Name, def.Plugin, e.kind)
		}
		return nil
	}
	e := &entry{kind: k, def: def}
	if len(def.Labels) > 0 {
		labels := append([]string(nil), def.Labels...)
		sort.Strings(labels)
		if err := b.build(e, labels); err != nil {
			return err
		}
	}
	b.entries[id] = e
	return nil
}

// build creates and registers the vector of e with the given label names.
func (b *Backend) build(e *entry, labels []string) error {
	name := b.metricName(e.def)
	help := e.def.Help
	if help == "" {
		help = e.def.Description
	}
	if help == "" {
		help = e.def.Name
	}
	constLabels := prom.Labels{"plugin": e.def.Plugin}

	var c prom.Collector
	switch e.kind {
	case kindCounter:
		e.counter = prom.NewCounterVec(prom.CounterOpts{Name: name, Help: help, ConstLabels: constLabels}, labels)
		c = e.counter
	case kindGauge:
		e.gauge = prom.NewGaugeVec(prom.GaugeOpts{Name: name, Help: help, ConstLabels: constLabels}, labels)
		c = e.gauge
	case kindHistogram:
		buckets := e.def.Boundaries
		if len(buckets) == 0 {
			buckets = b.cfg.DefaultBuckets
		}
		e.histogram = prom.NewHistogramVec(prom.HistogramOpts{Name: name, Help: help, ConstLabels: constLabels, Buckets: buckets}, labels)
		c = e.histogram
	}
	if err := b.registry.Register(c); err != nil {
		var are prom.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("register %s: %w", name, err)
		}
		// another announcement sanitized to the same name: share its vector
		ok := false
		switch existing := are.ExistingCollector.(type) {
		case *prom.CounterVec:
			e.counter, ok = existing, e.kind == kindCounter
		case *prom.GaugeVec:
			e.gauge, ok = existing, e.kind == kindGauge
		case *prom.HistogramVec:
			e.histogram, ok = existing, e.kind == kindHistogram
		}
		if !ok {
			return fmt.Errorf("register %s: name taken by a different metric type", name)
		}
	}
	e.labels = labels
	return nil
}

func (b *Backend) metricName(def metrics.MetricDef) string {
	name := sanitize(def.Plugin) + "_" + sanitize(def.Name)
	if b.cfg.Namespace != "" {
		name = b.cfg.Namespace + "_" + name
	}
	return name
}

// lookup returns the entry for u, building its vector from the update's label
// names when it was created without any.
func (b *Backend) lookup(k kind, u metrics.MetricUpdate) (*entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key{u.Plugin, u.Name}]
	if !ok {
		return nil, fmt.Errorf("%s %s of plugin %s was never created", k, u.Name, u.Plugin)
	}
	if e.kind != k {
		return nil, fmt.Errorf("metric %s of plugin %s is a %s, not a %s", u.Name, u.Plugin, e.kind, k)
	}
	if e.labels == nil {
		labels := make([]string, 0, len(u.Labels))
		for l := range u.Labels {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		if err := b.build(e, labels); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (b *Backend) UpdateCounter(_ time.Time, u metrics.MetricUpdate) error {
	e, err := b.lookup(kindCounter, u)
	if err != nil {
		return err
	}
	if u.Value < 0 {
		return fmt.Errorf("counter %s cannot decrease (value %v)", u.Name, u.Value)
	}
	c, err := e.counter.GetMetricWith(labelsOf(u))
	if err != nil {
		return err
	}
	c.Add(u.Value)
	return nil
}

func (b *Backend) UpdateGauge(_ time.Time, u metrics.MetricUpdate) error {
	e, err := b.lookup(kindGauge, u)
	if err != nil {
		return err
	}
	g, err := e.gauge.GetMetricWith(labelsOf(u))
	if err != nil {
		return err
	}
	switch u.Op {
	case metrics.OpSet:
		g.Set(u.Value)
	case metrics.OpInc:
		g.Add(u.Value)
	case metrics.OpDec:
		g.Sub(u.Value)
	default:
		return fmt.Errorf("unsupported gauge operation %q", u.Op)
	}
	return nil
}

func (b *Backend) UpdateHistogram(_ time.Time, u metrics.MetricUpdate) error {
	e, err := b.lookup(kindHistogram, u)
	if err != nil {
		return err
	}
	h, err := e.histogram.GetMetricWith(labelsOf(u))
	if err != nil {
		return err
	}
	h.Observe(u.Value)
	return nil
}

func labelsOf(u metrics.MetricUpdate) prom.Labels {
	out := make(prom.Labels, len(u.Labels))
	for k, v := range u.Labels {
		out[k] = v
	}
	return out
}

// sanitize maps s onto the Prometheus metric name alphabet.
func sanitize(s string) string {
	var sb strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
