package boot

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/servicebase"
	"github.com/go-lynx/servicebase/config"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

type panicky struct{ *plugins.BaseService }

func (p *panicky) Run(context.Context) error { panic("run exploded") }

func newServiceBase(t *testing.T, profile config.Profile) (*servicebase.ServiceBase, *log.MemorySink) {
	t.Helper()
	mem := log.NewMemorySink()
	sb, err := servicebase.New(
		servicebase.WithRegistry(servicebase.NewDefaultRegistry()),
		servicebase.WithFallbackSink(mem),
		servicebase.WithAppID("boot-test"),
		servicebase.WithHeartbeat(0),
		servicebase.WithCwd(t.TempDir()),
	)
	require.NoError(t, err)
	require.NoError(t, sb.SetConfigPlugin("config-static", config.NewStatic(profile)))
	return sb, mem
}

func runAsync(ctx context.Context, app *Application) <-chan int {
	out := make(chan int, 1)
	go func() { out <- app.Run(ctx) }()
	return out
}

func waitCode(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case code := <-ch:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
		return -1
	}
}

func TestApplication_ShutdownCode(t *testing.T) {
	sb, mem := newServiceBase(t, config.Profile{})
	var out bytes.Buffer
	app := NewApplication(sb, WithOutput(&out))
	ch := runAsync(context.Background(), app)

	require.Eventually(t, func() bool {
		return len(mem.Find(log.InfoLevel, "[TIMER] BSB took")) > 0
	}, 5*time.Second, 10*time.Millisecond)
	app.Shutdown(ExitUser2, "sig kill user 2", nil)
	app.Shutdown(ExitOK, "ignored", nil)

	assert.Equal(t, ExitUser2, waitCode(t, ch))
	assert.Contains(t, out.String(), "service base")
	assert.NotEmpty(t, mem.Find(log.ErrorLevel, "Disposing service: boot-test code 2 (sig kill user 2)"))
}

func TestApplication_ContextDone(t *testing.T) {
	sb, mem := newServiceBase(t, config.Profile{})
	ctx, cancel := context.WithCancel(context.Background())
	ch := runAsync(ctx, NewApplication(sb, WithoutBanner()))
	require.Eventually(t, func() bool {
		return len(mem.Find(log.InfoLevel, "[TIMER] BSB took")) > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.Equal(t, ExitOK, waitCode(t, ch))
	assert.NotEmpty(t, mem.Find(log.WarnLevel, "Disposing service: boot-test code 0 (context done)"))
}

func TestApplication_SignalInjected(t *testing.T) {
	sb, mem := newServiceBase(t, config.Profile{})
	app := NewApplication(sb, WithoutBanner())
	ch := runAsync(context.Background(), app)
	require.Eventually(t, func() bool {
		return len(mem.Find(log.InfoLevel, "[TIMER] BSB took")) > 0
	}, 5*time.Second, 10*time.Millisecond)

	app.sigChan <- os.Interrupt
	assert.Equal(t, ExitOK, waitCode(t, ch))
	assert.NotEmpty(t, mem.Find(log.WarnLevel, "Disposing service: boot-test code 0 (manual exit)"))
}

func TestApplication_BootFailure(t *testing.T) {
	sb, mem := newServiceBase(t, config.Profile{
		Services: map[string]plugins.Definition{"ghost": {Plugin: "not-registered", Enabled: true}},
	})
	code := NewApplication(sb, WithoutBanner()).Run(context.Background())
	assert.Equal(t, ExitPanic, code)
	assert.NotEmpty(t, mem.Find(log.ErrorLevel, "Disposing service: boot-test code 3 (boot failure)"))
}

func TestApplication_PanicInRun(t *testing.T) {
	sb, mem := newServiceBase(t, config.Profile{})
	require.NoError(t, sb.AddService("panicky", func(sc *servicebase.ServiceContext) (plugins.Service, error) {
		return &panicky{BaseService: plugins.NewBaseService(sc.PluginName)}, nil
	}, nil))
	code := NewApplication(sb, WithoutBanner()).Run(context.Background())
	assert.Equal(t, ExitPanic, code)

	// safeCall turns the panic into a run error.
	assert.NotEmpty(t, mem.Find(log.ErrorLevel, "Panic in run of panicky: run exploded"))
}
