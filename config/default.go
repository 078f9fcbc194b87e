package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	kconfig "github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	_ "github.com/go-kratos/kratos/v2/encoding/yaml"
	"github.com/joho/godotenv"

	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

const (
	// Name is the plugin name of the default provider.
	Name = "config-default"
	// DefaultFile is the configuration file read from the working directory.
	DefaultFile = "sec-config.yaml"

	EnvConfigFile = "BSB_CONFIG_FILE"
	EnvProfile    = "BSB_PROFILE"
)

// Options configure the default provider. Empty fields fall back to the
// environment, then to the defaults.
type Options struct {
	// Cwd is the directory holding sec-config.yaml and .env.
	Cwd string
	// Path overrides the configuration file path.
	Path string
	// Profile selects the deployment profile.
	Profile string
	// SkipDotEnv disables loading Cwd/.env.
	SkipDotEnv bool
}

// Default is the config-default provider: a YAML file read through the
// Kratos config loader.
type Default struct {
	opts Options

	mu      sync.RWMutex
	conf    kconfig.Config
	path    string
	profile string
	data    *Profile
}

var _ Provider = (*Default)(nil)

// NewDefault returns an unloaded provider. Call Init before use.
func NewDefault(opts Options) *Default {
	return &Default{opts: opts}
}

// Init loads .env, resolves the file path and profile, then reads and scans
// the selected profile. A missing file or unknown profile is a
// configuration error.
func (d *Default) Init(ctx context.Context) error {
	cwd := d.opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}
	if !d.opts.SkipDotEnv {
		envFile := filepath.Join(cwd, ".env")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("failed to load %s: %v", envFile, err)
		}
	}

	path := firstSet(d.opts.Path, envLonger(EnvConfigFile, 2), filepath.Join(cwd, DefaultFile))
	profile := firstSet(d.opts.Profile, envLonger(EnvProfile, 2), DefaultProfile)

	if _, err := os.Stat(path); err != nil {
		return plugins.NewTemplateError(fmt.Errorf("%w: %w", plugins.ErrConfiguration, err),
			"Cannot find config file at {filepath}", plugins.Meta{"filepath": path})
	}

	log.Infof("loading configuration from %s (profile %s)", path, profile)
	c := kconfig.New(kconfig.WithSource(file.NewSource(path)))
	if err := c.Load(); err != nil {
		return fmt.Errorf("%w: failed to load configuration from %s: %w", plugins.ErrConfiguration, path, err)
	}
	if _, err := c.Value(profile).Map(); err != nil {
		_ = c.Close()
		return unknownProfile(profile)
	}
	var p Profile
	if err := c.Value(profile).Scan(&p); err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: invalid profile %s: %w", plugins.ErrConfiguration, profile, err)
	}

	d.mu.Lock()
	d.conf, d.path, d.profile, d.data = c, path, profile, &p
	d.mu.Unlock()
	return nil
}

// Path returns the loaded file path.
func (d *Default) Path() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.path
}

// Profile returns the selected deployment profile.
func (d *Default) Profile() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profile
}

func (d *Default) loaded() (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.data == nil {
		return nil, fmt.Errorf("%w: %s", plugins.ErrNotReady, Name)
	}
	return d.data, nil
}

func (d *Default) GetLoggingPlugins(context.Context) (map[string]plugins.Definition, error) {
	p, err := d.loaded()
	if err != nil {
		return nil, err
	}
	return enabled(p.Logging), nil
}

func (d *Default) GetMetricsPlugins(context.Context) (map[string]plugins.Definition, error) {
	p, err := d.loaded()
	if err != nil {
		return nil, err
	}
	return enabled(p.Metrics), nil
}

func (d *Default) GetEventsPlugins(context.Context) (map[string]plugins.Definition, error) {
	p, err := d.loaded()
	if err != nil {
		return nil, err
	}
	return enabled(p.Events), nil
}

func (d *Default) GetServicePlugins(context.Context) (map[string]plugins.Definition, error) {
	p, err := d.loaded()
	if err != nil {
		return nil, err
	}
	return enabled(p.Services), nil
}

func (d *Default) GetPluginConfig(_ context.Context, t plugins.Type, name string) (map[string]any, error) {
	p, err := d.loaded()
	if err != nil {
		return nil, err
	}
	return pluginConfig(p, t, name), nil
}

func (d *Default) GetServicePluginDefinition(_ context.Context, plugin string) (ServiceRef, error) {
	p, err := d.loaded()
	if err != nil {
		return ServiceRef{}, err
	}
	return p.serviceRef(plugin)
}

// Dispose closes the underlying Kratos config and forgets the profile.
func (d *Default) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conf != nil {
		if err := d.conf.Close(); err != nil {
			log.Errorf("failed to close configuration: %v", err)
		}
	}
	d.conf, d.data = nil, nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// envLonger returns the env value when it is longer than n characters.
func envLonger(key string, n int) string {
	if v := os.Getenv(key); len(v) > n {
		return v
	}
	return ""
}
