package servicebase

import (
	"context"

	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/plugins"
)

// ServiceClient is a handle one service holds on another. Method calls go
// straight to the target's method table; Events is bound to the target's
// plugin name so the holder can listen to or emit the target's events.
type ServiceClient struct {
	owner    string
	target   string
	order    plugins.Order
	services *SBServices

	Events *events.PluginEvents
}

// Target returns the plugin name the client calls.
func (c *ServiceClient) Target() string { return c.target }

// Owner returns the plugin name holding the client.
func (c *ServiceClient) Owner() string { return c.owner }

// Enabled reports whether the target is loaded.
func (c *ServiceClient) Enabled() bool {
	_, ok := c.services.lookup(c.target)
	return ok
}

// Call invokes method on the target. It fails with plugins.ErrPluginNotEnabled
// when the target is not loaded and plugins.ErrMethodNotFound when it does
// not expose method.
func (c *ServiceClient) Call(ctx context.Context, method string, args ...any) (any, error) {
	return c.services.call(ctx, c.target, method, args)
}
