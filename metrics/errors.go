package metrics

import "github.com/go-lynx/servicebase/plugins"

// ErrMetricsNotReady is returned by every PluginMetrics call made before the
// metrics subsystem finished init, or after it was disposed.
// errors.Is(err, plugins.ErrNotReady) holds for it.
var ErrMetricsNotReady error = notReadyError("metrics")

type notReadyError string

func (e notReadyError) Error() string { return string(e) + " not ready" }

func (e notReadyError) Unwrap() error { return plugins.ErrNotReady }
