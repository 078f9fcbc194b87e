package events

import (
	"context"
	"io"
	"time"
)

// PluginEvents is the events handle given to a plugin. Every call is made
// on behalf of the bound plugin name.
type PluginEvents struct {
	plugin string
	router *Router
}

// For returns the events handle of plugin.
func (r *Router) For(plugin string) *PluginEvents {
	return &PluginEvents{plugin: plugin, router: r}
}

// Plugin returns the bound plugin name.
func (p *PluginEvents) Plugin() string { return p.plugin }

// OnBroadcast listens for broadcasts of event.
func (p *PluginEvents) OnBroadcast(ctx context.Context, event string, l Listener) error {
	return p.router.OnBroadcast(ctx, p.plugin, event, l)
}

// EmitBroadcast delivers event to every broadcast listener.
func (p *PluginEvents) EmitBroadcast(ctx context.Context, event, traceID string, args ...any) error {
	return p.router.EmitBroadcast(ctx, p.plugin, event, traceID, args...)
}

// OnEvent listens for event.
func (p *PluginEvents) OnEvent(ctx context.Context, event string, l Listener) error {
	return p.router.OnEvent(ctx, p.plugin, event, l)
}

// EmitEvent delivers event to one listener without waiting for it.
func (p *PluginEvents) EmitEvent(ctx context.Context, event, traceID string, args ...any) error {
	return p.router.EmitEvent(ctx, p.plugin, event, traceID, args...)
}

// OnEventSpecific listens for event addressed to serverID.
func (p *PluginEvents) OnEventSpecific(ctx context.Context, serverID, event string, l Listener) error {
	return p.router.OnEventSpecific(ctx, serverID, p.plugin, event, l)
}

// EmitEventSpecific emits event to the listener on serverID.
func (p *PluginEvents) EmitEventSpecific(ctx context.Context, serverID, event, traceID string, args ...any) error {
	return p.router.EmitEventSpecific(ctx, serverID, p.plugin, event, traceID, args...)
}

// OnReturnableEvent answers event.
func (p *PluginEvents) OnReturnableEvent(ctx context.Context, event string, l ReturnableListener) error {
	return p.router.OnReturnableEvent(ctx, p.plugin, event, l)
}

// EmitEventAndReturn waits up to timeout for the answer; zero means DefaultTimeout.
func (p *PluginEvents) EmitEventAndReturn(ctx context.Context, event, traceID string, timeout time.Duration, args ...any) (any, error) {
	return p.router.EmitEventAndReturn(ctx, p.plugin, event, traceID, timeout, args...)
}

// OnReturnableEventSpecific answers event addressed to serverID.
func (p *PluginEvents) OnReturnableEventSpecific(ctx context.Context, serverID, event string, l ReturnableListener) error {
	return p.router.OnReturnableEventSpecific(ctx, serverID, p.plugin, event, l)
}

// EmitEventAndReturnSpecific is EmitEventAndReturn addressed to serverID.
func (p *PluginEvents) EmitEventAndReturnSpecific(ctx context.Context, serverID, event, traceID string, timeout time.Duration, args ...any) (any, error) {
	return p.router.EmitEventAndReturnSpecific(ctx, serverID, p.plugin, event, traceID, timeout, args...)
}

// ReceiveStream registers a one-shot stream receiver and returns its id.
func (p *PluginEvents) ReceiveStream(ctx context.Context, event string, l StreamListener, timeout time.Duration) (string, error) {
	return p.router.ReceiveStream(ctx, p.plugin, event, l, timeout)
}

// SendStream sends r to the receiver registered as streamID.
func (p *PluginEvents) SendStream(ctx context.Context, event, streamID string, r io.Reader) error {
	return p.router.SendStream(ctx, p.plugin, event, streamID, r)
}
