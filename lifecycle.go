// Package servicebase composes a process out of plugins.
//
// This file (lifecycle.go) contains the boot sequence:
//   - Init: config, logging, metrics, events, then services in init order
//   - Run: logging, events, then services in run order, then the heartbeat
//   - Dispose: services, events, config, metrics, logging, each step guarded
package servicebase

import (
	"context"
	"sync"
	"time"

	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/plugins"
)

// bootStep names a timed boot step.
type bootStep string

const (
	stepBSB      bootStep = "BSB"
	stepSelf     bootStep = "SELF"
	stepConfig   bootStep = "CONFIG"
	stepLogging  bootStep = "LOGGER"
	stepMetrics  bootStep = "METRICS"
	stepEvents   bootStep = "EVENTS"
	stepServices bootStep = "SERVICES"
	stepInit     bootStep = "INIT"
	stepRun      bootStep = "RUN"
)

const timerTemplate = "[TIMER] {timerName} took ({nsTime}ns) ({msTime}ms)"

// bootTimers keeps one stopwatch per boot step.
type bootTimers struct {
	mu      sync.Mutex
	running map[bootStep]*metrics.Timer
	took    map[bootStep]time.Duration
}

func newBootTimers() *bootTimers {
	return &bootTimers{running: make(map[bootStep]*metrics.Timer), took: make(map[bootStep]time.Duration)}
}

func (t *bootTimers) start(step bootStep) {
	t.mu.Lock()
	t.running[step] = metrics.StartTimer()
	t.mu.Unlock()
}

func (t *bootTimers) output(logger *log.PluginLogger, step bootStep) {
	t.mu.Lock()
	timer, ok := t.running[step]
	delete(t.running, step)
	var d time.Duration
	if ok {
		d = timer.Elapsed()
		t.took[step] = d
	}
	t.mu.Unlock()
	if !ok {
		logger.Warn("No timer running for {timerName}", log.Meta{"timerName": string(step)})
		return
	}
	logger.Info(timerTemplate, log.Meta{
		"timerName": string(step),
		"nsTime":    d.Nanoseconds(),
		"msTime":    float64(d.Nanoseconds()) / 1e6,
	})
}

// Took returns how long each completed boot step took.
func (sb *ServiceBase) Took() map[string]time.Duration {
	sb.timers.mu.Lock()
	defer sb.timers.mu.Unlock()
	out := make(map[string]time.Duration, len(sb.timers.took))
	for k, v := range sb.timers.took {
		out[string(k)] = v
	}
	return out
}

// Init runs the init half of the boot sequence. Each step closes the
// matching Add* call.
func (sb *ServiceBase) Init(ctx context.Context) error {
	sb.timers.start(stepInit)

	if err := sb.step(stepConfig, func() error { return sb.initConfig(ctx) }); err != nil {
		return err
	}
	if err := sb.step(stepLogging, func() error {
		if err := sb.loadLogging(ctx); err != nil {
			return err
		}
		return sb.logging.Init(ctx)
	}); err != nil {
		return err
	}
	if err := sb.step(stepMetrics, func() error {
		if err := sb.loadMetrics(ctx); err != nil {
			return err
		}
		return sb.metrics.Init(ctx)
	}); err != nil {
		return err
	}
	if err := sb.step(stepEvents, func() error {
		def, err := sb.loadEvents(ctx)
		if err != nil {
			return err
		}
		return sb.events.Init(ctx, def)
	}); err != nil {
		return err
	}
	if err := sb.step(stepServices, func() error {
		if err := sb.loadServices(ctx); err != nil {
			return err
		}
		return sb.services.Init(ctx)
	}); err != nil {
		return err
	}

	sb.timers.output(sb.log, stepInit)
	return nil
}

func (sb *ServiceBase) step(s bootStep, fn func() error) error {
	sb.begin(s)
	sb.timers.start(s)
	if err := fn(); err != nil {
		sb.log.ErrorErr(err)
		return err
	}
	sb.timers.output(sb.log, s)
	return nil
}

// Run runs logging, events and services, releases the config provider and
// starts the heartbeat.
func (sb *ServiceBase) Run(ctx context.Context) error {
	sb.timers.start(stepRun)
	if err := sb.logging.Run(ctx); err != nil {
		return err
	}
	if err := sb.events.Run(ctx); err != nil {
		return err
	}
	if err := sb.services.Run(ctx); err != nil {
		sb.log.ErrorErr(err)
		return err
	}
	sb.log.Info("Disposing config for memory cleanup and safety")
	sb.disposeConfig()
	sb.timers.output(sb.log, stepRun)

	sb.startHeartbeat()
	sb.timers.output(sb.log, stepBSB)
	return nil
}

func (sb *ServiceBase) heartbeat() {
	sb.log.Debug("[HEARTBEAT] ({appId}) ({time})", log.Meta{
		"appId": sb.appID,
		"time":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (sb *ServiceBase) startHeartbeat() {
	sb.heartbeat()
	if sb.opts.heartbeat <= 0 {
		return
	}
	stop := make(chan struct{})
	sb.mu.Lock()
	sb.stopHeartbeat = stop
	sb.mu.Unlock()
	go func() {
		ticker := time.NewTicker(sb.opts.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sb.heartbeat()
			case <-stop:
				return
			}
		}
	}()
}

func (sb *ServiceBase) disposeConfig() {
	sb.mu.Lock()
	p, name := sb.config, sb.configName
	sb.mu.Unlock()
	if d, ok := p.(plugins.Disposer); ok {
		safeDispose(sb.log, name, d.Dispose)
	}
}

// Dispose tears every subsystem down in reverse dependency order and returns
// code. Only the first call does any work. Later calls, including ones made
// from a plugin's Dispose while the first is still running, return the first
// code without waiting.
func (sb *ServiceBase) Dispose(code int, reason string, cause error) int {
	if !sb.disposing.CompareAndSwap(false, true) {
		return int(sb.exitCode.Load())
	}
	sb.exitCode.Store(int64(code))

	extra := ""
	if cause != nil {
		extra = cause.Error()
	}
	meta := log.Meta{"appId": sb.appID, "eCode": code, "reason": reason, "extraMsg": extra}
	if code == 0 {
		sb.log.Warn("Disposing service: {appId} code {eCode} ({reason}): {extraMsg}", meta)
	} else {
		sb.log.Error("Disposing service: {appId} code {eCode} ({reason})", meta)
		if cause != nil {
			sb.log.ErrorErr(cause)
		}
	}

	sb.mu.Lock()
	if sb.stopHeartbeat != nil {
		close(sb.stopHeartbeat)
		sb.stopHeartbeat = nil
	}
	sb.mu.Unlock()

	sb.log.Warn("Disposing services")
	safeDispose(sb.log, "services", sb.services.Dispose)
	sb.log.Warn("Disposing events")
	safeDispose(sb.log, "events", sb.events.Dispose)
	sb.log.Warn("Disposing config")
	sb.disposeConfig()
	sb.log.Warn("Disposing metrics")
	safeDispose(sb.log, "metrics", sb.metrics.Dispose)
	sb.log.Warn("Disposing logger")
	safeDispose(sb.log, "logging", sb.logging.Dispose)
	return code
}
