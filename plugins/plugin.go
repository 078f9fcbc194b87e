// Package plugins defines the contracts shared by every servicebase plugin:
// plugin types, run modes, optional lifecycle capabilities, service method
// tables, ordering constraints, definitions, filters and the error taxonomy.
//
// The package is a leaf: it imports nothing else from servicebase so that
// log, metrics, events and config can all depend on it.
package plugins

import (
	"context"
	"strings"
)

// Type identifies which subsystem a plugin belongs to.
type Type string

const (
	TypeConfig  Type = "config"
	TypeLogging Type = "logging"
	TypeMetrics Type = "metrics"
	TypeEvents  Type = "events"
	TypeService Type = "service"
)

// Types lists every plugin type in boot order.
var Types = []Type{TypeConfig, TypeLogging, TypeMetrics, TypeEvents, TypeService}

// Mode is the run mode of the process.
type Mode string

const (
	// ModeDevelopment is the default mode: debug logging on, live reload friendly.
	ModeDevelopment Mode = "development"
	// ModeProductionDebug runs with production semantics but keeps debug logging.
	ModeProductionDebug Mode = "production-debug"
	// ModeProduction drops debug logging.
	ModeProduction Mode = "production"
)

// Debug reports whether debug-level output is kept in this mode.
func (m Mode) Debug() bool { return m != ModeProduction }

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeDevelopment, ModeProductionDebug, ModeProduction:
		return true
	}
	return false
}

// Initializer is implemented by plugins that need an init step. ctx is the
// context the process was started with; the hook timeout only bounds how long
// the orchestrator waits for Init to return.
type Initializer interface {
	Init(ctx context.Context) error
}

// Runner is implemented by plugins that need a run step after every plugin
// has been initialized. Run should start long-lived work and return. ctx is
// the context the process was started with and is not cancelled when Run
// returns, so background work may be tied to it. Such work must still be
// stopped in Dispose.
type Runner interface {
	Run(ctx context.Context) error
}

// Disposer is implemented by plugins holding resources that must be released
// on shutdown. Dispose must not panic; the orchestrator recovers anyway.
type Disposer interface {
	Dispose()
}

// Method is a callable exposed by a service to other services holding a
// client for it.
type Method func(ctx context.Context, args ...any) (any, error)

// Methods is the method table a service exposes.
type Methods map[string]Method

// Service is the contract every service plugin implements.
type Service interface {
	// Name returns the plugin name the service was registered under.
	Name() string
	// Methods returns the table callable through a ServiceClient. May be nil.
	Methods() Methods
}

// Order holds the init/run ordering constraints of a service.
// Entries are plugin names; references to plugins that are not loaded are ignored.
type Order struct {
	InitBefore []string
	InitAfter  []string
	RunBefore  []string
	RunAfter   []string
}

// Merge returns the union of o and other, keeping first occurrence order.
func (o Order) Merge(other Order) Order {
	return Order{
		InitBefore: appendUnique(o.InitBefore, other.InitBefore...),
		InitAfter:  appendUnique(o.InitAfter, other.InitAfter...),
		RunBefore:  appendUnique(o.RunBefore, other.RunBefore...),
		RunAfter:   appendUnique(o.RunAfter, other.RunAfter...),
	}
}

// Orderer is implemented by services that declare ordering constraints.
type Orderer interface {
	OrderConstraints() Order
}

func appendUnique(dst []string, src ...string) []string {
	out := make([]string, 0, len(dst)+len(src))
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, list := range [][]string{dst, src} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// SimplifyName lowercases s and keeps only ASCII letters, digits and '-',
// truncated to 50 characters. Used to build readable trace ids.
func SimplifyName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if b.Len() >= 50 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	return b.String()
}
