package servicebase

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/go-lynx/servicebase/log"
)

// DefaultHookTimeout bounds a single plugin init or run call.
const DefaultHookTimeout = 30 * time.Second

// safeCall runs fn and turns a panic into an error. timeout bounds only the
// wait: fn receives ctx itself, so work a hook starts in the background keeps
// running after the hook returns. When the wait times out first the call is
// reported as timed out; fn may still be running and its late result is
// dropped.
func safeCall(ctx context.Context, logger *log.PluginLogger, plugin, operation string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	t0 := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := make([]byte, 4096)
				n := runtime.Stack(stack, false)
				logger.Error("Panic in {operation} of {plugin}: {panic}\n{stack}", log.Meta{
					"operation": operation, "plugin": plugin, "panic": r, "stack": string(stack[:n]),
				})
				done <- fmt.Errorf("panic in %s of %s: %v", operation, plugin, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if d := time.Since(t0); d > timeout/2 {
			logger.Warn("Plugin {plugin} {operation} took {duration} (over half of {timeout})", log.Meta{
				"plugin": plugin, "operation": operation, "duration": d, "timeout": timeout,
			})
		}
		return err
	case <-timer.C:
		return fmt.Errorf("%s of plugin %s did not finish within %s: %w", operation, plugin, timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return fmt.Errorf("%s of plugin %s abandoned: %w", operation, plugin, ctx.Err())
	}
}

// safeDispose runs fn and logs instead of propagating a panic.
func safeDispose(logger *log.PluginLogger, plugin string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while disposing {plugin}: {panic}", log.Meta{"plugin": plugin, "panic": r})
		}
	}()
	fn()
}
