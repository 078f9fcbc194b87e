package log

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-lynx/servicebase/plugins"
)

type sinkBinding struct {
	name   string
	sink   Sink
	filter *plugins.Filter
}

// SBLogging routes log lines to the configured logging backends. Each backend
// carries an optional filter keyed by level name; with no backends configured
// lines go to the fallback sink.
type SBLogging struct {
	mode     plugins.Mode
	fallback Sink

	mu       sync.RWMutex
	bindings []sinkBinding
	ready    bool
}

// NewSBLogging returns a logging router for mode. A nil fallback selects a
// KratosSink over the process logger.
func NewSBLogging(mode plugins.Mode, fallback Sink) *SBLogging {
	if fallback == nil {
		fallback = NewKratosSink(nil)
	}
	return &SBLogging{mode: mode, fallback: fallback}
}

// Mode returns the run mode the router was created with.
func (l *SBLogging) Mode() plugins.Mode { return l.mode }

// AddSink registers a logging backend. The filter kinds are level names.
func (l *SBLogging) AddSink(name string, sink Sink, filter *plugins.Filter) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return fmt.Errorf("%w: cannot add logging plugin %s", plugins.ErrPhaseCompleted, name)
	}
	for _, b := range l.bindings {
		if b.name == name {
			return fmt.Errorf("%w: logging plugin %s", plugins.ErrPluginAlreadyExists, name)
		}
	}
	l.bindings = append(l.bindings, sinkBinding{name: name, sink: sink, filter: filter})
	return nil
}

// Sinks returns the registered backend names in registration order.
func (l *SBLogging) Sinks() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.bindings))
	for _, b := range l.bindings {
		names = append(names, b.name)
	}
	return names
}

// Init initializes every backend implementing plugins.Initializer and closes
// registration.
func (l *SBLogging) Init(ctx context.Context) error {
	l.mu.Lock()
	l.ready = true
	bindings := append([]sinkBinding(nil), l.bindings...)
	l.mu.Unlock()
	for _, b := range bindings {
		if in, ok := b.sink.(plugins.Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return plugins.NewPluginError(b.name, "init", "logging plugin init failed", err)
			}
		}
	}
	return nil
}

// Run runs every backend implementing plugins.Runner.
func (l *SBLogging) Run(ctx context.Context) error {
	for _, b := range l.snapshot() {
		if r, ok := b.sink.(plugins.Runner); ok {
			if err := r.Run(ctx); err != nil {
				return plugins.NewPluginError(b.name, "run", "logging plugin run failed", err)
			}
		}
	}
	return nil
}

// Dispose disposes every backend implementing plugins.Disposer. Panics are
// recovered so one backend cannot stop the others from being released.
func (l *SBLogging) Dispose() {
	for _, b := range l.snapshot() {
		if d, ok := b.sink.(plugins.Disposer); ok {
			func() {
				defer func() {
					if r := recover(); r != nil {
						Errorf("logging plugin %s panicked during dispose: %v", b.name, r)
					}
				}()
				d.Dispose()
			}()
		}
	}
}

func (l *SBLogging) snapshot() []sinkBinding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]sinkBinding(nil), l.bindings...)
}

// Log routes one line to every backend whose filter accepts (level, plugin).
// Debug lines are dropped in production mode.
func (l *SBLogging) Log(level Level, plugin, message string, meta Meta) {
	if level == DebugLevel && !l.mode.Debug() {
		return
	}
	bindings := l.snapshot()
	if len(bindings) == 0 {
		safeDispatch(DefaultSinkName, l.fallback, level, plugin, message, meta)
		return
	}
	for _, b := range bindings {
		if !b.filter.Matches(level.String(), plugin) {
			continue
		}
		safeDispatch(b.name, b.sink, level, plugin, message, meta)
	}
}

// Logger returns a logger namespaced to plugin.
func (l *SBLogging) Logger(plugin string) *PluginLogger {
	return &PluginLogger{plugin: plugin, out: l}
}

func safeDispatch(name string, sink Sink, level Level, plugin, message string, meta Meta) {
	defer func() {
		if r := recover(); r != nil {
			Errorf("logging plugin %s panicked: %v", name, r)
		}
	}()
	dispatch(sink, level, plugin, message, meta)
}

// ParseFilter parses a logging backend filter keyed by level names.
func ParseFilter(raw any) (*plugins.Filter, error) {
	return plugins.ParseFilter(raw, LevelNames)
}
