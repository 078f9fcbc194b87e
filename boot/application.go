// Package boot runs a ServiceBase as a process: banner, init, run, then wait
// for a signal and dispose with the matching exit code.
package boot

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/go-lynx/servicebase"
	"github.com/go-lynx/servicebase/internal/banner"
	"github.com/go-lynx/servicebase/log"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitUser1 = 1
	ExitUser2 = 2
	// ExitPanic covers panics and boot failures.
	ExitPanic = 3
)

type exitRequest struct {
	code   int
	reason string
	err    error
}

// Application drives one ServiceBase through its lifecycle.
type Application struct {
	sb     *servicebase.ServiceBase
	banner bool
	out    io.Writer

	sigChan      chan os.Signal
	shutdown     chan exitRequest
	shutdownOnce sync.Once
}

// Option configures an Application.
type Option func(*Application)

// WithoutBanner skips the startup banner.
func WithoutBanner() Option { return func(a *Application) { a.banner = false } }

// WithOutput sets where the banner is written. Defaults to stdout.
func WithOutput(w io.Writer) Option { return func(a *Application) { a.out = w } }

// NewApplication wraps sb.
func NewApplication(sb *servicebase.ServiceBase, opts ...Option) *Application {
	app := &Application{
		sb:       sb,
		banner:   true,
		out:      os.Stdout,
		sigChan:  make(chan os.Signal, 1),
		shutdown: make(chan exitRequest, 1),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run boots the ServiceBase and blocks until a signal arrives, Shutdown is
// called or ctx is done. It always disposes and returns the exit code.
func (app *Application) Run(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			code = app.sb.Dispose(ExitPanic, "uncaught exception", err)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	app.setupSignalHandling(done)
	defer signal.Stop(app.sigChan)

	if app.banner {
		if err := banner.Show(app.out, app.sb.Cwd()); err != nil {
			log.Warnf("failed to show banner: %v", err)
		}
	}

	if err := app.sb.Init(ctx); err != nil {
		return app.sb.Dispose(ExitPanic, "boot failure", err)
	}
	if err := app.sb.Run(ctx); err != nil {
		return app.sb.Dispose(ExitPanic, "boot failure", err)
	}

	var req exitRequest
	select {
	case req = <-app.shutdown:
	case <-ctx.Done():
		req = exitRequest{code: ExitOK, reason: "context done", err: ctx.Err()}
	}
	return app.sb.Dispose(req.code, req.reason, req.err)
}

func (app *Application) setupSignalHandling(done <-chan struct{}) {
	sigs := make([]os.Signal, 0, len(exitSignals))
	for s := range exitSignals {
		sigs = append(sigs, s)
	}
	signal.Notify(app.sigChan, sigs...)
	go func() {
		var sig os.Signal
		select {
		case sig = <-app.sigChan:
		case <-done:
			return
		}
		req := exitRequest{code: ExitOK, reason: sig.String()}
		if r, known := exitSignals[sig]; known {
			req = r
		}
		log.Infof("received signal %v, shutting down", sig)
		app.Shutdown(req.code, req.reason, nil)
	}()
}

// Shutdown asks Run to dispose with code. Only the first request counts.
func (app *Application) Shutdown(code int, reason string, err error) {
	app.shutdownOnce.Do(func() {
		app.shutdown <- exitRequest{code: code, reason: reason, err: err}
	})
}

// Run runs sb and exits the process with the resulting code.
func Run(ctx context.Context, sb *servicebase.ServiceBase, opts ...Option) {
	os.Exit(NewApplication(sb, opts...).Run(ctx))
}
