// Package servicebase composes a process out of plugins.
//
// This file (app.go) contains the ServiceBase structure, its options and the
// pre-boot registration API.
package servicebase

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/go-lynx/servicebase/config"
	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/plugins"
)

const (
	// CorePluginName is the name the orchestrator logs under.
	CorePluginName = "core"

	// EnvAppID overrides the generated app id when longer than 2 characters.
	EnvAppID = "BSB_APP_ID"

	// DefaultHeartbeat is the interval of the heartbeat debug line.
	DefaultHeartbeat = time.Hour
)

// ModeFromFlags maps the debug and live switches to a run mode: not live is
// development, live with debug is production-debug, otherwise production.
func ModeFromFlags(debug, live bool) plugins.Mode {
	switch {
	case !live:
		return plugins.ModeDevelopment
	case debug:
		return plugins.ModeProductionDebug
	default:
		return plugins.ModeProduction
	}
}

// NewAppID returns {hostname}-{uuid v7}, or the BSB_APP_ID environment value.
func NewAppID() string {
	if v := os.Getenv(EnvAppID); len(v) > 2 {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return host + "-" + id.String()
}

type options struct {
	mode        plugins.Mode
	cwd         string
	appID       string
	registry    *Registry
	fallback    log.Sink
	heartbeat   time.Duration
	hookTimeout time.Duration
}

// Option configures a ServiceBase.
type Option func(*options)

// WithMode sets the run mode. The default is development.
func WithMode(mode plugins.Mode) Option { return func(o *options) { o.mode = mode } }

// WithCwd sets the working directory plugins resolve files against.
func WithCwd(cwd string) Option { return func(o *options) { o.cwd = cwd } }

// WithAppID overrides the generated app id.
func WithAppID(id string) Option { return func(o *options) { o.appID = id } }

// WithRegistry selects the registry config-listed plugins are built from.
func WithRegistry(r *Registry) Option { return func(o *options) { o.registry = r } }

// WithFallbackSink sets where log lines go while no logging plugin is loaded.
func WithFallbackSink(s log.Sink) Option { return func(o *options) { o.fallback = s } }

// WithHeartbeat sets the heartbeat interval; zero or less disables it.
func WithHeartbeat(d time.Duration) Option { return func(o *options) { o.heartbeat = d } }

// WithHookTimeout bounds each service init and run call.
func WithHookTimeout(d time.Duration) Option { return func(o *options) { o.hookTimeout = d } }

// ServiceBase owns the five subsystems (config, logging, metrics, events and
// services) and drives them through init, run and dispose.
type ServiceBase struct {
	opts  options
	appID string

	logging  *log.SBLogging
	metrics  *metrics.SBMetrics
	events   *events.Router
	services *SBServices
	log      *log.PluginLogger

	configName string
	config     config.Provider

	timers *bootTimers

	mu         sync.Mutex
	phases     map[bootStep]bool
	pendingSvc []pendingService

	stopHeartbeat chan struct{}
	disposing     atomic.Bool
	exitCode      atomic.Int64
}

type pendingService struct {
	name      string
	factory   ServiceFactory
	rawConfig map[string]any
}

// New builds a ServiceBase. Nothing is loaded until Init.
func New(opts ...Option) (*ServiceBase, error) {
	o := options{
		mode:        plugins.ModeDevelopment,
		heartbeat:   DefaultHeartbeat,
		hookTimeout: DefaultHookTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", plugins.ErrConfiguration, o.mode)
	}
	if o.cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		o.cwd = wd
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.appID == "" {
		o.appID = NewAppID()
	}

	sb := &ServiceBase{
		opts:   o,
		appID:  o.appID,
		phases: make(map[bootStep]bool),
		timers: newBootTimers(),
	}
	sb.timers.start(stepBSB)
	sb.timers.start(stepSelf)

	sb.logging = log.NewSBLogging(o.mode, o.fallback)
	sb.log = sb.logging.Logger(CorePluginName)
	sb.metrics = metrics.NewSBMetrics(sb.logging.Logger(metrics.PluginName))
	sb.events = events.NewRouter(sb.logging.Logger(events.PluginName), sb.metrics.Metrics(events.PluginName))
	sb.services = newSBServices(sb.logging.Logger("core-services"), o.hookTimeout)

	sb.log.Info("Starting BSB [{mode}]", log.Meta{"mode": string(o.mode)})
	sb.timers.output(sb.log, stepSelf)
	return sb, nil
}

// AppID returns the process app id.
func (sb *ServiceBase) AppID() string { return sb.appID }

// Mode returns the run mode.
func (sb *ServiceBase) Mode() plugins.Mode { return sb.opts.mode }

// Logging returns the logging subsystem.
func (sb *ServiceBase) Logging() *log.SBLogging { return sb.logging }

// Metrics returns the metrics subsystem.
func (sb *ServiceBase) Metrics() *metrics.SBMetrics { return sb.metrics }

// Events returns the events router.
func (sb *ServiceBase) Events() *events.Router { return sb.events }

// Services returns the services subsystem.
func (sb *ServiceBase) Services() *SBServices { return sb.services }

// Config returns the config provider, nil before the config step.
func (sb *ServiceBase) Config() config.Provider {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.config
}

// guard fails once step has begun.
func (sb *ServiceBase) guard(step bootStep, what string) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.phases[step] {
		return fmt.Errorf("%w: cannot add %s as %s already initialized", plugins.ErrPhaseCompleted, what, step)
	}
	return nil
}

func (sb *ServiceBase) begin(step bootStep) {
	sb.mu.Lock()
	sb.phases[step] = true
	sb.mu.Unlock()
}

// SetConfigPlugin replaces the config provider. Only allowed before Init.
func (sb *ServiceBase) SetConfigPlugin(name string, p config.Provider) error {
	if err := sb.guard(stepConfig, "config plugin"); err != nil {
		return err
	}
	sb.mu.Lock()
	sb.configName, sb.config = name, p
	sb.mu.Unlock()
	return nil
}

// AddLogging adds a logging backend ahead of the config-listed ones.
func (sb *ServiceBase) AddLogging(name string, sink log.Sink, filter *plugins.Filter) error {
	if err := sb.guard(stepLogging, "logging plugin"); err != nil {
		return err
	}
	return sb.logging.AddSink(name, sink, filter)
}

// AddMetrics adds a metrics backend ahead of the config-listed ones.
func (sb *ServiceBase) AddMetrics(name string, b metrics.Backend) error {
	if err := sb.guard(stepMetrics, "metrics plugin"); err != nil {
		return err
	}
	return sb.metrics.AddBackend(name, b)
}

// AddEvents adds an events backend. Config-listed backends added later take
// precedence when filters overlap.
func (sb *ServiceBase) AddEvents(name string, b events.Backend, filter *plugins.Filter) error {
	if err := sb.guard(stepEvents, "events plugin"); err != nil {
		return err
	}
	return sb.events.AddBackend(name, b, filter)
}

// AddService queues a service built by f with rawConfig. It is constructed
// during the services step, before config-listed services.
func (sb *ServiceBase) AddService(name string, f ServiceFactory, rawConfig map[string]any) error {
	if err := sb.guard(stepServices, "service plugin"); err != nil {
		return err
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, p := range sb.pendingSvc {
		if p.name == name {
			return fmt.Errorf("%w: service plugin %s", plugins.ErrPluginAlreadyExists, name)
		}
	}
	sb.pendingSvc = append(sb.pendingSvc, pendingService{name: name, factory: f, rawConfig: rawConfig})
	return nil
}

func (sb *ServiceBase) pluginContext(name string, raw map[string]any) *PluginContext {
	return &PluginContext{
		Name:      name,
		AppID:     sb.appID,
		Mode:      sb.opts.mode,
		Cwd:       sb.opts.cwd,
		Log:       sb.logging.Logger(name),
		RawConfig: raw,
	}
}

func (sb *ServiceBase) serviceContext(name string, raw map[string]any) *ServiceContext {
	return &ServiceContext{
		PluginName: name,
		AppID:      sb.appID,
		Mode:       sb.opts.mode,
		Cwd:        sb.opts.cwd,
		Log:        sb.logging.Logger(name),
		Metrics:    sb.metrics.Metrics(name),
		Events:     sb.events.For(name),
		RawConfig:  raw,
		router:     sb.events,
	}
}

// Cwd returns the working directory plugins resolve files against.
func (sb *ServiceBase) Cwd() string { return sb.opts.cwd }
