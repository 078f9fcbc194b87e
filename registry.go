package servicebase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-lynx/servicebase/config"
	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/events/memory"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/metrics/otel"
	"github.com/go-lynx/servicebase/metrics/prometheus"
	"github.com/go-lynx/servicebase/plugins"
)

// PluginContext is what a non-service plugin factory receives.
type PluginContext struct {
	// Name is the name the plugin is mapped under.
	Name  string
	AppID string
	Mode  plugins.Mode
	Cwd   string
	Log   *log.PluginLogger
	// RawConfig is the plugin's config section, nil when absent.
	RawConfig map[string]any
}

// Decode decodes RawConfig into out and validates it.
func (pc *PluginContext) Decode(out any) error {
	if err := plugins.DecodeConfig(pc.RawConfig, out); err != nil {
		return plugins.NewPluginError(pc.Name, "config", "invalid configuration", err)
	}
	return nil
}

type (
	ConfigFactory  func(pc *PluginContext) (config.Provider, error)
	LoggingFactory func(pc *PluginContext) (log.Sink, error)
	MetricsFactory func(pc *PluginContext) (metrics.Backend, error)
	EventsFactory  func(pc *PluginContext) (events.Backend, error)
	ServiceFactory func(sc *ServiceContext) (plugins.Service, error)
)

// Registry maps plugin names to factories, one table per plugin type.
// Definitions in configuration name the registry entry in their plugin field.
type Registry struct {
	mu       sync.RWMutex
	config   map[string]ConfigFactory
	logging  map[string]LoggingFactory
	metrics  map[string]MetricsFactory
	events   map[string]EventsFactory
	services map[string]ServiceFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		config:   make(map[string]ConfigFactory),
		logging:  make(map[string]LoggingFactory),
		metrics:  make(map[string]MetricsFactory),
		events:   make(map[string]EventsFactory),
		services: make(map[string]ServiceFactory),
	}
}

func register[F any](r *Registry, table map[string]F, t plugins.Type, name string, f F) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := table[name]; exists {
		return fmt.Errorf("%w: %s plugin %s", plugins.ErrPluginAlreadyExists, t, name)
	}
	table[name] = f
	return nil
}

func lookup[F any](r *Registry, table map[string]F, t plugins.Type, name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := table[name]
	if !ok {
		var zero F
		return zero, plugins.NewTemplateError(plugins.ErrPluginNotFound,
			"Cannot find {type} plugin {plugin} in the registry", plugins.Meta{"type": string(t), "plugin": name})
	}
	return f, nil
}

func (r *Registry) RegisterConfig(name string, f ConfigFactory) error {
	return register(r, r.config, plugins.TypeConfig, name, f)
}

func (r *Registry) RegisterLogging(name string, f LoggingFactory) error {
	return register(r, r.logging, plugins.TypeLogging, name, f)
}

func (r *Registry) RegisterMetrics(name string, f MetricsFactory) error {
	return register(r, r.metrics, plugins.TypeMetrics, name, f)
}

func (r *Registry) RegisterEvents(name string, f EventsFactory) error {
	return register(r, r.events, plugins.TypeEvents, name, f)
}

func (r *Registry) RegisterService(name string, f ServiceFactory) error {
	return register(r, r.services, plugins.TypeService, name, f)
}

func (r *Registry) Config(name string) (ConfigFactory, error) {
	return lookup(r, r.config, plugins.TypeConfig, name)
}

func (r *Registry) Logging(name string) (LoggingFactory, error) {
	return lookup(r, r.logging, plugins.TypeLogging, name)
}

func (r *Registry) Metrics(name string) (MetricsFactory, error) {
	return lookup(r, r.metrics, plugins.TypeMetrics, name)
}

func (r *Registry) Events(name string) (EventsFactory, error) {
	return lookup(r, r.events, plugins.TypeEvents, name)
}

func (r *Registry) Service(name string) (ServiceFactory, error) {
	return lookup(r, r.services, plugins.TypeService, name)
}

// Names returns the registered names per plugin type, sorted.
func (r *Registry) Names() map[plugins.Type][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[plugins.Type][]string{
		plugins.TypeConfig:  sortedKeys(r.config),
		plugins.TypeLogging: sortedKeys(r.logging),
		plugins.TypeMetrics: sortedKeys(r.metrics),
		plugins.TypeEvents:  sortedKeys(r.events),
		plugins.TypeService: sortedKeys(r.services),
	}
}

func sortedKeys[F any](m map[string]F) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var defaultRegistry = newDefaultRegistry()

// DefaultRegistry returns the process-wide registry holding the built-in
// plugins. Applications register their services on it from init functions.
func DefaultRegistry() *Registry { return defaultRegistry }

// NewDefaultRegistry returns a fresh registry holding only the built-in plugins.
func NewDefaultRegistry() *Registry { return newDefaultRegistry() }

func newDefaultRegistry() *Registry {
	r := NewRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.RegisterConfig(config.Name, func(pc *PluginContext) (config.Provider, error) {
		return config.NewDefault(config.Options{Cwd: pc.Cwd}), nil
	}))
	must(r.RegisterLogging(log.DefaultSinkName, func(pc *PluginContext) (log.Sink, error) {
		var cfg log.SinkConfig
		if err := pc.Decode(&cfg); err != nil {
			return nil, err
		}
		return log.NewDefaultSink(pc.AppID, pc.Mode, cfg, nil)
	}))
	must(r.RegisterLogging(log.MemorySinkName, func(*PluginContext) (log.Sink, error) {
		return log.NewMemorySink(), nil
	}))
	must(r.RegisterMetrics(prometheus.Name, func(pc *PluginContext) (metrics.Backend, error) {
		var cfg prometheus.Config
		if err := pc.Decode(&cfg); err != nil {
			return nil, err
		}
		return prometheus.New(cfg), nil
	}))
	must(r.RegisterMetrics(otel.Name, func(pc *PluginContext) (metrics.Backend, error) {
		var cfg otel.Config
		if err := pc.Decode(&cfg); err != nil {
			return nil, err
		}
		return otel.NewFromConfig(context.Background(), cfg)
	}))
	must(r.RegisterEvents(memory.Name, func(pc *PluginContext) (events.Backend, error) {
		var cfg memory.Config
		if err := pc.Decode(&cfg); err != nil {
			return nil, err
		}
		return memory.New(cfg, pc.Log)
	}))
	return r
}
