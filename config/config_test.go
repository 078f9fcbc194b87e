package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/servicebase/plugins"
)

const sample = `
default:
  logging:
    logging-default:
      plugin: logging-default
      enabled: true
      filter: [info, warn, error]
  metrics:
    metrics-prometheus:
      plugin: metrics-prometheus
      enabled: true
      config:
        namespace: app
  events:
    events-extra:
      plugin: events-default
      enabled: false
  services:
    orders:
      plugin: service-orders
      version: 1.2.0
      enabled: true
      config:
        port: 8080
        tags: [a, b]
    orders-legacy:
      plugin: service-orders
      enabled: false
    billing:
      plugin: service-billing
      enabled: false
staging:
  services: {}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(body), 0o600))
	return dir
}

func load(t *testing.T, opts Options) *Default {
	t.Helper()
	opts.SkipDotEnv = true
	d := NewDefault(opts)
	require.NoError(t, d.Init(context.Background()))
	t.Cleanup(d.Dispose)
	return d
}

func TestDefaultReadsEnabledPlugins(t *testing.T) {
	ctx := context.Background()
	d := load(t, Options{Cwd: writeConfig(t, sample)})
	assert.Equal(t, DefaultProfile, d.Profile())

	services, err := d.GetServicePlugins(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	orders := services["orders"]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "service-orders", orders.PluginName())
	assert.Equal(t, "1.2.0", orders.Version)

	evs, err := d.GetEventsPlugins(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)

	logging, err := d.GetLoggingPlugins(ctx)
	require.NoError(t, err)
	require.Contains(t, logging, "logging-default")
	assert.Equal(t, []any{"info", "warn", "error"}, logging["logging-default"].Filter)

	m, err := d.GetMetricsPlugins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics-prometheus"}, SortedNames(m))
}

func TestDefaultPluginConfig(t *testing.T) {
	ctx := context.Background()
	d := load(t, Options{Cwd: writeConfig(t, sample)})

	cfg, err := d.GetPluginConfig(ctx, plugins.TypeService, "orders")
	require.NoError(t, err)
	var decoded struct {
		Port int      `yaml:"port"`
		Tags []string `yaml:"tags"`
	}
	require.NoError(t, plugins.DecodeConfig(cfg, &decoded))
	assert.Equal(t, 8080, decoded.Port)
	assert.Equal(t, []string{"a", "b"}, decoded.Tags)

	cfg, err = d.GetPluginConfig(ctx, plugins.TypeMetrics, "metrics-prometheus")
	require.NoError(t, err)
	assert.Equal(t, "app", cfg["namespace"])

	cfg, err = d.GetPluginConfig(ctx, plugins.TypeConfig, "orders")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = d.GetPluginConfig(ctx, plugins.TypeService, "missing")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestServicePluginDefinition(t *testing.T) {
	ctx := context.Background()
	d := load(t, Options{Cwd: writeConfig(t, sample)})

	ref, err := d.GetServicePluginDefinition(ctx, "service-orders")
	require.NoError(t, err)
	assert.Equal(t, ServiceRef{Name: "orders", Enabled: true}, ref)

	ref, err = d.GetServicePluginDefinition(ctx, "service-billing")
	require.NoError(t, err)
	assert.Equal(t, ServiceRef{Name: "billing", Enabled: false}, ref)

	_, err = d.GetServicePluginDefinition(ctx, "service-unknown")
	assert.ErrorIs(t, err, plugins.ErrPluginNotFound)
	assert.Equal(t, "Cannot find the plugin service-unknown in the config", err.Error())
}

func TestProfileSelection(t *testing.T) {
	dir := writeConfig(t, sample)
	d := load(t, Options{Cwd: dir, Profile: "staging"})
	services, err := d.GetServicePlugins(context.Background())
	require.NoError(t, err)
	assert.Empty(t, services)

	t.Setenv(EnvProfile, "staging")
	d = load(t, Options{Cwd: dir})
	assert.Equal(t, "staging", d.Profile())
}

func TestUnknownProfileIsConfigurationError(t *testing.T) {
	d := NewDefault(Options{Cwd: writeConfig(t, sample), Profile: "prod", SkipDotEnv: true})
	err := d.Init(context.Background())
	assert.ErrorIs(t, err, plugins.ErrConfiguration)
	assert.Equal(t, "unknown deployment profile (prod), please create it first.", err.Error())
}

func TestMissingFileIsConfigurationError(t *testing.T) {
	d := NewDefault(Options{Cwd: t.TempDir(), SkipDotEnv: true})
	err := d.Init(context.Background())
	assert.ErrorIs(t, err, plugins.ErrConfiguration)
	assert.Contains(t, err.Error(), "Cannot find config file at ")
}

func TestConfigFileFromEnvAndDotEnv(t *testing.T) {
	cfgDir := writeConfig(t, sample)
	cwd := t.TempDir()
	t.Setenv(EnvConfigFile, "")
	require.NoError(t, os.Unsetenv(EnvConfigFile))
	envBody := EnvConfigFile + "=" + filepath.Join(cfgDir, DefaultFile) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".env"), []byte(envBody), 0o600))

	d := NewDefault(Options{Cwd: cwd})
	require.NoError(t, d.Init(context.Background()))
	t.Cleanup(d.Dispose)
	assert.Equal(t, filepath.Join(cfgDir, DefaultFile), d.Path())
}

func TestCallsBeforeInitFail(t *testing.T) {
	_, err := NewDefault(Options{}).GetServicePlugins(context.Background())
	assert.ErrorIs(t, err, plugins.ErrNotReady)
}

func TestStaticProvider(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(Profile{Services: map[string]plugins.Definition{
		"a": {Plugin: "svc-a", Enabled: true, Config: map[string]any{"x": 1}},
		"b": {Plugin: "svc-b"},
	}})
	services, err := s.GetServicePlugins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, SortedNames(services))
	cfg, err := s.GetPluginConfig(ctx, plugins.TypeService, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg["x"])
}
