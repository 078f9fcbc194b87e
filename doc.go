// Package servicebase provides a plugin host for long running services.
//
// A process is composed of five kinds of plugin: one config provider, any
// number of logging, metrics and events backends, and the service plugins
// holding the business logic. ServiceBase loads them, wires each service to
// namespaced logging, metrics and events handles, and drives everything
// through init, run and dispose.
//
// # Architecture
//
//   - ServiceBase: boot sequence, registration API and shutdown
//   - Registry: maps plugin names found in config to factories
//   - SBServices: service plugins ordered by their init/run constraints
//   - ServiceClient: a handle one service holds on another
//
// The subsystems live in their own packages: config, log, metrics and events.
//
// # File Organization
//
//   - app.go: ServiceBase structure, options and pre-boot registration
//   - lifecycle.go: Init, Run, Dispose and the boot timers
//   - ops.go: config-driven plugin loaders
//   - registry.go: plugin factories and the built-in registry
//   - services.go: service contexts and the services subsystem
//   - client.go: service-to-service clients
//   - topology.go: init/run ordering
//   - recovery.go: panic and timeout guards around plugin hooks
//
// # Quick Start
//
//	func main() {
//	    sb, err := servicebase.New(servicebase.WithMode(plugins.ModeProduction))
//	    if err != nil {
//	        panic(err)
//	    }
//	    _ = sb.AddService("greeter", newGreeter, nil)
//	    boot.Run(context.Background(), sb)
//	}
//
// # Service Development
//
//	type greeter struct {
//	    *plugins.BaseService
//	    sc *servicebase.ServiceContext
//	}
//
//	func newGreeter(sc *servicebase.ServiceContext) (plugins.Service, error) {
//	    g := &greeter{BaseService: plugins.NewBaseService(sc.PluginName), sc: sc}
//	    err := g.Handle("hello", func(ctx context.Context, args ...any) (any, error) {
//	        return fmt.Sprintf("hello %v", args[0]), nil
//	    })
//	    return g, err
//	}
//
// # Configuration
//
// config-default reads sec-config.yaml from the working directory, or the
// file named by BSB_CONFIG_FILE, and selects the profile named by
// BSB_PROFILE (default "default"). See conf/sec-config.example.yaml.
package servicebase
