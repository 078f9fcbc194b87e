package servicebase

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/plugins"
)

// ServiceContext is what a service factory receives: its identity, its
// namespaced logging, metrics and events handles, and its raw config.
type ServiceContext struct {
	// PluginName is the name the service is mapped under.
	PluginName string
	AppID      string
	Mode       plugins.Mode
	Cwd        string

	Log     *log.PluginLogger
	Metrics *metrics.PluginMetrics
	Events  *events.PluginEvents

	RawConfig map[string]any

	services *SBServices
	router   *events.Router
	clients  []*ServiceClient
}

// Decode decodes the service config into out and validates it.
func (sc *ServiceContext) Decode(out any) error {
	if err := plugins.DecodeConfig(sc.RawConfig, out); err != nil {
		return plugins.NewPluginError(sc.PluginName, "config", "invalid configuration", err)
	}
	return nil
}

// Client returns a handle on the service mapped as target. order holds the
// constraints the caller needs relative to other plugins, typically
// Order{InitAfter: []string{target}}; they are merged into the caller's own.
func (sc *ServiceContext) Client(target string, order plugins.Order) *ServiceClient {
	c := &ServiceClient{
		owner:    sc.PluginName,
		target:   target,
		order:    order,
		services: sc.services,
		Events:   sc.router.For(target),
	}
	sc.clients = append(sc.clients, c)
	return c
}

type serviceEntry struct {
	name    string
	service plugins.Service
	ctx     *ServiceContext
}

func (e *serviceEntry) order() plugins.Order {
	var o plugins.Order
	if or, ok := e.service.(plugins.Orderer); ok {
		o = or.OrderConstraints()
	}
	for _, c := range e.ctx.clients {
		o = o.Merge(c.order)
	}
	return o
}

// SBServices holds the service plugins and drives their lifecycle in
// constraint order.
type SBServices struct {
	log     *log.PluginLogger
	timeout time.Duration

	mu          sync.RWMutex
	entries     []*serviceEntry
	byName      map[string]*serviceEntry
	initialized bool
	initOrder   []string
	runOrder    []string
}

func newSBServices(logger *log.PluginLogger, timeout time.Duration) *SBServices {
	return &SBServices{log: logger, timeout: timeout, byName: make(map[string]*serviceEntry)}
}

// add constructs a service through f and keeps it under sc.PluginName.
func (s *SBServices) add(sc *ServiceContext, f ServiceFactory) error {
	s.mu.RLock()
	_, dup := s.byName[sc.PluginName]
	initialized := s.initialized
	s.mu.RUnlock()
	if initialized {
		return fmt.Errorf("%w: cannot add service plugin %s", plugins.ErrPhaseCompleted, sc.PluginName)
	}
	if dup {
		return fmt.Errorf("%w: service plugin %s", plugins.ErrPluginAlreadyExists, sc.PluginName)
	}

	sc.services = s
	svc, err := f(sc)
	if err != nil {
		return plugins.NewPluginError(sc.PluginName, "create", "service construction failed", err)
	}
	if svc == nil {
		return plugins.NewPluginError(sc.PluginName, "create", "service factory returned nil", plugins.ErrInvalidPluginConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byName[sc.PluginName]; dup {
		return fmt.Errorf("%w: service plugin %s", plugins.ErrPluginAlreadyExists, sc.PluginName)
	}
	e := &serviceEntry{name: sc.PluginName, service: svc, ctx: sc}
	s.entries = append(s.entries, e)
	s.byName[e.name] = e
	s.log.Info("Added service plugin {name}", log.Meta{"name": e.name})
	return nil
}

// Names returns the service names in registration order.
func (s *SBServices) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

// InitOrder returns the order services were initialized in.
func (s *SBServices) InitOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.initOrder)
}

// RunOrder returns the order services were run in.
func (s *SBServices) RunOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.runOrder)
}

func (s *SBServices) lookup(name string) (*serviceEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byName[name]
	return e, ok
}

func (s *SBServices) sorted(p phase) ([]*serviceEntry, []string, error) {
	s.mu.RLock()
	entries := slices.Clone(s.entries)
	s.mu.RUnlock()

	names := make([]string, len(entries))
	orders := make(map[string]plugins.Order, len(entries))
	byName := make(map[string]*serviceEntry, len(entries))
	for i, e := range entries {
		names[i] = e.name
		orders[e.name] = e.order()
		byName[e.name] = e
	}
	ordered, err := orderServices(names, orders, p, func(plugin, ref string) {
		s.log.Debug("{plugin} references {ref} in its {phase} order but it is not loaded", log.Meta{
			"plugin": plugin, "ref": ref, "phase": string(p),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	out := make([]*serviceEntry, len(ordered))
	for i, name := range ordered {
		out[i] = byName[name]
	}
	return out, ordered, nil
}

// Init initializes every service in init order. Registration closes first.
func (s *SBServices) Init(ctx context.Context) error {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	ordered, names, err := s.sorted(phaseInit)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.initOrder = names
	s.mu.Unlock()
	s.log.Info("Init services in order: {order}", log.Meta{"order": names})

	for _, e := range ordered {
		in, ok := e.service.(plugins.Initializer)
		if !ok {
			continue
		}
		s.log.Debug("Init service {name}", log.Meta{"name": e.name})
		if err := safeCall(ctx, s.log, e.name, "init", s.timeout, in.Init); err != nil {
			return plugins.NewPluginError(e.name, "init", "service init failed", err)
		}
	}
	return nil
}

// Run runs every service in run order.
func (s *SBServices) Run(ctx context.Context) error {
	ordered, names, err := s.sorted(phaseRun)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.runOrder = names
	s.mu.Unlock()
	s.log.Info("Run services in order: {order}", log.Meta{"order": names})

	for _, e := range ordered {
		rn, ok := e.service.(plugins.Runner)
		if !ok {
			continue
		}
		s.log.Debug("Run service {name}", log.Meta{"name": e.name})
		if err := safeCall(ctx, s.log, e.name, "run", s.timeout, rn.Run); err != nil {
			return plugins.NewPluginError(e.name, "run", "service run failed", err)
		}
	}
	return nil
}

// Dispose disposes every service, reversing init order when known.
func (s *SBServices) Dispose() {
	s.mu.RLock()
	order := slices.Clone(s.initOrder)
	if len(order) == 0 {
		for _, e := range s.entries {
			order = append(order, e.name)
		}
	}
	s.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		e, ok := s.lookup(order[i])
		if !ok {
			continue
		}
		if d, ok := e.service.(plugins.Disposer); ok {
			safeDispose(s.log, e.name, d.Dispose)
		}
	}
}

// call invokes method on the service mapped as target.
func (s *SBServices) call(ctx context.Context, target, method string, args []any) (any, error) {
	e, ok := s.lookup(target)
	if !ok {
		return nil, plugins.NewTemplateError(plugins.ErrPluginNotEnabled,
			"The plugin {plugin} is not enabled so you cannot call methods from it", plugins.Meta{"plugin": target})
	}
	m, ok := e.service.Methods()[method]
	if !ok || m == nil {
		return nil, plugins.NewTemplateError(plugins.ErrMethodNotFound,
			"The plugin {plugin} has no method {method}", plugins.Meta{"plugin": target, "method": method})
	}
	return m(ctx, args...)
}

// Health returns the report of every service. Services that do not
// implement plugins.HealthChecker are reported healthy.
func (s *SBServices) Health() map[string]plugins.HealthReport {
	s.mu.RLock()
	entries := slices.Clone(s.entries)
	s.mu.RUnlock()

	now := time.Now().Unix()
	out := make(map[string]plugins.HealthReport, len(entries))
	for _, e := range entries {
		hc, ok := e.service.(plugins.HealthChecker)
		if !ok {
			out[e.name] = plugins.HealthReport{Status: plugins.HealthHealthy, Timestamp: now}
			continue
		}
		r := hc.Health()
		if r.Timestamp == 0 {
			r.Timestamp = now
		}
		out[e.name] = r
	}
	return out
}
