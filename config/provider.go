// Package config provides the plugin configuration of a deployment profile.
//
// A profile lists four plugin groups: logging, metrics, events and services.
// Each entry maps a plugin name to a plugins.Definition. Only enabled entries
// are returned by the Get*Plugins calls.
package config

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-lynx/servicebase/plugins"
)

// DefaultProfile is the deployment profile used when none is selected.
const DefaultProfile = "default"

// Provider is the config plugin contract consumed by the orchestrator.
type Provider interface {
	GetLoggingPlugins(ctx context.Context) (map[string]plugins.Definition, error)
	GetMetricsPlugins(ctx context.Context) (map[string]plugins.Definition, error)
	GetEventsPlugins(ctx context.Context) (map[string]plugins.Definition, error)
	GetServicePlugins(ctx context.Context) (map[string]plugins.Definition, error)
	// GetPluginConfig returns the raw config of a plugin, or nil when it has none.
	GetPluginConfig(ctx context.Context, pluginType plugins.Type, name string) (map[string]any, error)
	// GetServicePluginDefinition resolves a service plugin by its plugin name.
	GetServicePluginDefinition(ctx context.Context, plugin string) (ServiceRef, error)
}

// ServiceRef is the mapped name and state of a service plugin.
type ServiceRef struct {
	Name    string
	Enabled bool
}

// Profile is one deployment profile.
type Profile struct {
	Logging  map[string]plugins.Definition `json:"logging" yaml:"logging"`
	Metrics  map[string]plugins.Definition `json:"metrics" yaml:"metrics"`
	Events   map[string]plugins.Definition `json:"events" yaml:"events"`
	Services map[string]plugins.Definition `json:"services" yaml:"services"`
}

func (p *Profile) group(t plugins.Type) map[string]plugins.Definition {
	switch t {
	case plugins.TypeLogging:
		return p.Logging
	case plugins.TypeMetrics:
		return p.Metrics
	case plugins.TypeEvents:
		return p.Events
	case plugins.TypeService:
		return p.Services
	}
	return nil
}

// enabled returns the enabled entries of group with Name set to their key.
func enabled(group map[string]plugins.Definition) map[string]plugins.Definition {
	out := make(map[string]plugins.Definition, len(group))
	for name, def := range group {
		if !def.Enabled {
			continue
		}
		def.Name = name
		out[name] = def
	}
	return out
}

// serviceRef finds the mapped entry of plugin, preferring an enabled one.
func (p *Profile) serviceRef(plugin string) (ServiceRef, error) {
	names := make([]string, 0, len(p.Services))
	for name := range p.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, wantEnabled := range []bool{true, false} {
		for _, name := range names {
			def := p.Services[name]
			if def.PluginName() != plugin && name != plugin {
				continue
			}
			if wantEnabled && !def.Enabled {
				continue
			}
			return ServiceRef{Name: name, Enabled: def.Enabled}, nil
		}
	}
	return ServiceRef{}, plugins.NewTemplateError(plugins.ErrPluginNotFound,
		"Cannot find the plugin {plugin} in the config", plugins.Meta{"plugin": plugin})
}

// Static is a Provider over an in-memory profile.
type Static struct {
	profile Profile
}

var _ Provider = (*Static)(nil)

// NewStatic returns a provider serving profile.
func NewStatic(profile Profile) *Static {
	return &Static{profile: profile}
}

func (s *Static) GetLoggingPlugins(context.Context) (map[string]plugins.Definition, error) {
	return enabled(s.profile.Logging), nil
}

func (s *Static) GetMetricsPlugins(context.Context) (map[string]plugins.Definition, error) {
	return enabled(s.profile.Metrics), nil
}

func (s *Static) GetEventsPlugins(context.Context) (map[string]plugins.Definition, error) {
	return enabled(s.profile.Events), nil
}

func (s *Static) GetServicePlugins(context.Context) (map[string]plugins.Definition, error) {
	return enabled(s.profile.Services), nil
}

func (s *Static) GetPluginConfig(_ context.Context, t plugins.Type, name string) (map[string]any, error) {
	return pluginConfig(&s.profile, t, name), nil
}

func (s *Static) GetServicePluginDefinition(_ context.Context, plugin string) (ServiceRef, error) {
	return s.profile.serviceRef(plugin)
}

func pluginConfig(p *Profile, t plugins.Type, name string) map[string]any {
	if t == plugins.TypeConfig {
		return nil
	}
	def, ok := p.group(t)[name]
	if !ok {
		return nil
	}
	return def.Config
}

// SortedNames returns the keys of defs in lexical order, the order plugins
// from one group are loaded in.
func SortedNames(defs map[string]plugins.Definition) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownProfile(profile string) error {
	return plugins.NewTemplateError(fmt.Errorf("%w: unknown deployment profile", plugins.ErrConfiguration),
		"unknown deployment profile ({deploymentProfile}), please create it first.",
		plugins.Meta{"deploymentProfile": profile})
}
