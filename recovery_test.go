package servicebase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/plugins"
)

func recoveryLogger() (*log.PluginLogger, *log.MemorySink) {
	mem := log.NewMemorySink()
	return log.NewSBLogging(plugins.ModeDevelopment, mem).Logger(CorePluginName), mem
}

func TestSafeCall_ReturnsResult(t *testing.T) {
	logger, _ := recoveryLogger()
	boom := errors.New("boom")
	err := safeCall(context.Background(), logger, "svc", "init", time.Second, func(context.Context) error { return boom })
	assert.Same(t, boom, err)
	assert.NoError(t, safeCall(context.Background(), logger, "svc", "init", time.Second, func(context.Context) error { return nil }))
}

func TestSafeCall_Panic(t *testing.T) {
	logger, mem := recoveryLogger()
	err := safeCall(context.Background(), logger, "svc", "run", time.Second, func(context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in run of svc: kaboom")
	assert.NotEmpty(t, mem.Find(log.ErrorLevel, "Panic in run of svc: kaboom"))
}

func TestSafeCall_Timeout(t *testing.T) {
	logger, _ := recoveryLogger()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := safeCall(context.Background(), logger, "svc", "init", 50*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSafeCall_SlowWarns(t *testing.T) {
	logger, mem := recoveryLogger()
	err := safeCall(context.Background(), logger, "svc", "init", 400*time.Millisecond, func(context.Context) error {
		time.Sleep(250 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, mem.Find(log.WarnLevel, "Plugin svc init took"))
}

func TestSafeDispose_RecoversPanic(t *testing.T) {
	logger, mem := recoveryLogger()
	assert.NotPanics(t, func() {
		safeDispose(logger, "svc", func() { panic("dispose failed") })
	})
	assert.NotEmpty(t, mem.Find(log.ErrorLevel, "Panic while disposing svc: dispose failed"))
}

func TestSafeCall_ContextOutlivesHook(t *testing.T) {
	logger, _ := recoveryLogger()
	var hookCtx context.Context
	err := safeCall(context.Background(), logger, "svc", "run", 50*time.Millisecond, func(ctx context.Context) error {
		hookCtx = ctx
		return nil
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, hookCtx.Err())
}

func TestSafeCall_ParentCancelled(t *testing.T) {
	logger, _ := recoveryLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release := make(chan struct{})
	defer close(release)

	err := safeCall(ctx, logger, "svc", "init", time.Second, func(context.Context) error {
		<-release
		return nil
	})
	assert.True(t, errors.Is(err, context.Canceled))
}
