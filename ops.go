// Package servicebase composes a process out of plugins.
//
// This file (ops.go) contains the config-driven loaders. Each one reads the
// enabled definitions of one plugin type, builds every entry through the
// registry and hands it to the matching subsystem.
package servicebase

import (
	"context"
	"fmt"

	"github.com/go-lynx/servicebase/config"
	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

// initConfig selects config-default when no provider was set and
// initializes it.
func (sb *ServiceBase) initConfig(ctx context.Context) error {
	sb.mu.Lock()
	p, name := sb.config, sb.configName
	sb.mu.Unlock()

	if p == nil {
		f, err := sb.opts.registry.Config(config.Name)
		if err != nil {
			return err
		}
		p, err = f(sb.pluginContext(config.Name, nil))
		if err != nil {
			return plugins.NewPluginError(config.Name, "create", "config plugin construction failed", err)
		}
		name = config.Name
		sb.mu.Lock()
		sb.config, sb.configName = p, name
		sb.mu.Unlock()
	}
	sb.log.Info("Adding {name} as config", log.Meta{"name": name})
	if in, ok := p.(plugins.Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return plugins.NewPluginError(name, "init", "config plugin init failed", err)
		}
	}
	return nil
}

func (sb *ServiceBase) rawConfig(ctx context.Context, t plugins.Type, name string) (map[string]any, error) {
	raw, err := sb.Config().GetPluginConfig(ctx, t, name)
	if err != nil {
		return nil, fmt.Errorf("read %s config of %s: %w", t, name, err)
	}
	return raw, nil
}

func (sb *ServiceBase) loadLogging(ctx context.Context) error {
	defs, err := sb.Config().GetLoggingPlugins(ctx)
	if err != nil {
		return err
	}
	for _, name := range config.SortedNames(defs) {
		def := defs[name]
		f, err := sb.opts.registry.Logging(def.PluginName())
		if err != nil {
			return err
		}
		filter, err := log.ParseFilter(def.Filter)
		if err != nil {
			return plugins.NewPluginError(name, "config", "invalid logging filter", err)
		}
		raw, err := sb.rawConfig(ctx, plugins.TypeLogging, name)
		if err != nil {
			return err
		}
		sink, err := f(sb.pluginContext(name, raw))
		if err != nil {
			return plugins.NewPluginError(name, "create", "logging plugin construction failed", err)
		}
		sb.log.Info("Adding {name} ({plugin}) as logger", log.Meta{"name": name, "plugin": def.PluginName()})
		if err := sb.logging.AddSink(name, sink, filter); err != nil {
			return err
		}
	}
	return nil
}

func (sb *ServiceBase) loadMetrics(ctx context.Context) error {
	defs, err := sb.Config().GetMetricsPlugins(ctx)
	if err != nil {
		return err
	}
	for _, name := range config.SortedNames(defs) {
		def := defs[name]
		f, err := sb.opts.registry.Metrics(def.PluginName())
		if err != nil {
			return err
		}
		raw, err := sb.rawConfig(ctx, plugins.TypeMetrics, name)
		if err != nil {
			return err
		}
		b, err := f(sb.pluginContext(name, raw))
		if err != nil {
			return plugins.NewPluginError(name, "create", "metrics plugin construction failed", err)
		}
		sb.log.Info("Adding {name} ({plugin}) as metrics", log.Meta{"name": name, "plugin": def.PluginName()})
		if err := sb.metrics.AddBackend(name, b); err != nil {
			return err
		}
	}
	return nil
}

// loadEvents adds the config-listed events backends and returns the default
// backend, or nil when the profile already maps events-default.
func (sb *ServiceBase) loadEvents(ctx context.Context) (events.Backend, error) {
	defs, err := sb.Config().GetEventsPlugins(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range config.SortedNames(defs) {
		def := defs[name]
		f, err := sb.opts.registry.Events(def.PluginName())
		if err != nil {
			return nil, err
		}
		filter, err := events.ParseFilter(def.Filter)
		if err != nil {
			return nil, plugins.NewPluginError(name, "config", "invalid events filter", err)
		}
		raw, err := sb.rawConfig(ctx, plugins.TypeEvents, name)
		if err != nil {
			return nil, err
		}
		b, err := f(sb.pluginContext(name, raw))
		if err != nil {
			return nil, plugins.NewPluginError(name, "create", "events plugin construction failed", err)
		}
		sb.log.Info("Adding {name} ({plugin}) as events", log.Meta{"name": name, "plugin": def.PluginName()})
		if err := sb.events.AddBackend(name, b, filter); err != nil {
			return nil, err
		}
	}

	for _, name := range sb.events.Bindings() {
		if name == events.DefaultBackendName {
			return nil, nil
		}
	}
	f, err := sb.opts.registry.Events(events.DefaultBackendName)
	if err != nil {
		return nil, err
	}
	raw, err := sb.rawConfig(ctx, plugins.TypeEvents, events.DefaultBackendName)
	if err != nil {
		return nil, err
	}
	def, err := f(sb.pluginContext(events.DefaultBackendName, raw))
	if err != nil {
		return nil, plugins.NewPluginError(events.DefaultBackendName, "create", "default events plugin construction failed", err)
	}
	return def, nil
}

// loadServices constructs the programmatically added services, then the
// enabled config-listed ones.
func (sb *ServiceBase) loadServices(ctx context.Context) error {
	sb.mu.Lock()
	pending := sb.pendingSvc
	sb.pendingSvc = nil
	sb.mu.Unlock()

	for _, p := range pending {
		sb.log.Info("Adding {name} as service", log.Meta{"name": p.name})
		if err := sb.services.add(sb.serviceContext(p.name, p.rawConfig), p.factory); err != nil {
			return err
		}
	}

	defs, err := sb.Config().GetServicePlugins(ctx)
	if err != nil {
		return err
	}
	for _, name := range config.SortedNames(defs) {
		def := defs[name]
		f, err := sb.opts.registry.Service(def.PluginName())
		if err != nil {
			return err
		}
		raw, err := sb.rawConfig(ctx, plugins.TypeService, name)
		if err != nil {
			return err
		}
		sb.log.Info("Adding {name} ({plugin}) as service", log.Meta{"name": name, "plugin": def.PluginName()})
		if err := sb.services.add(sb.serviceContext(name, raw), f); err != nil {
			return err
		}
	}
	return nil
}

// ResolveService maps a service plugin name to the name it is loaded under,
// as listed in the config. It fails once the config provider is released.
func (sb *ServiceBase) ResolveService(ctx context.Context, plugin string) (config.ServiceRef, error) {
	p := sb.Config()
	if p == nil {
		return config.ServiceRef{}, fmt.Errorf("%w: config", plugins.ErrNotReady)
	}
	return p.GetServicePluginDefinition(ctx, plugin)
}
