package servicebase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/servicebase/events"
	"github.com/go-lynx/servicebase/log"
	"github.com/go-lynx/servicebase/metrics"
	"github.com/go-lynx/servicebase/plugins"
)

type stubService struct {
	*plugins.BaseService
	health *plugins.HealthReport
}

func (s *stubService) Health() plugins.HealthReport { return *s.health }

func newTestServices(t *testing.T) (*SBServices, *log.SBLogging, *events.Router) {
	t.Helper()
	logging := log.NewSBLogging(plugins.ModeDevelopment, log.NewMemorySink())
	m := metrics.NewSBMetrics(logging.Logger(metrics.PluginName))
	router := events.NewRouter(logging.Logger(events.PluginName), m.Metrics(events.PluginName))
	return newSBServices(logging.Logger("core-services"), time.Second), logging, router
}

func testContext(logging *log.SBLogging, router *events.Router, name string) *ServiceContext {
	return &ServiceContext{
		PluginName: name,
		Log:        logging.Logger(name),
		Events:     router.For(name),
		router:     router,
	}
}

func TestServiceClient_NotEnabled(t *testing.T) {
	s, logging, router := newTestServices(t)
	sc := testContext(logging, router, "owner")
	var client *ServiceClient
	require.NoError(t, s.add(sc, func(sc *ServiceContext) (plugins.Service, error) {
		client = sc.Client("ghost", plugins.Order{})
		return plugins.NewBaseService(sc.PluginName), nil
	}))

	assert.False(t, client.Enabled())
	assert.Equal(t, "owner", client.Owner())
	assert.Equal(t, "ghost", client.Target())
	_, err := client.Call(context.Background(), "anything")
	assert.True(t, errors.Is(err, plugins.ErrPluginNotEnabled))
	assert.Equal(t, "The plugin ghost is not enabled so you cannot call methods from it", err.Error())
}

func TestServiceClient_MethodNotFound(t *testing.T) {
	s, logging, router := newTestServices(t)
	require.NoError(t, s.add(testContext(logging, router, "target"), func(sc *ServiceContext) (plugins.Service, error) {
		return plugins.NewBaseService(sc.PluginName), nil
	}))
	var client *ServiceClient
	require.NoError(t, s.add(testContext(logging, router, "owner"), func(sc *ServiceContext) (plugins.Service, error) {
		client = sc.Client("target", plugins.Order{})
		return plugins.NewBaseService(sc.PluginName), nil
	}))

	assert.True(t, client.Enabled())
	_, err := client.Call(context.Background(), "missing")
	assert.True(t, errors.Is(err, plugins.ErrMethodNotFound))
}

func TestServiceClient_OrderMergedIntoOwner(t *testing.T) {
	s, logging, router := newTestServices(t)
	for _, name := range []string{"web", "db", "cache"} {
		require.NoError(t, s.add(testContext(logging, router, name), func(sc *ServiceContext) (plugins.Service, error) {
			b := plugins.NewBaseService(sc.PluginName)
			if name == "web" {
				b.SetOrder(plugins.Order{InitAfter: []string{"cache"}})
				sc.Client("db", plugins.Order{InitAfter: []string{"db"}, RunBefore: []string{"db"}})
			}
			return b, nil
		}))
	}

	require.NoError(t, s.Init(context.Background()))
	assert.Equal(t, []string{"db", "cache", "web"}, s.InitOrder())
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"web", "db", "cache"}, s.RunOrder())
}

func TestSBServices_AddAfterInit(t *testing.T) {
	s, logging, router := newTestServices(t)
	require.NoError(t, s.Init(context.Background()))
	err := s.add(testContext(logging, router, "late"), func(sc *ServiceContext) (plugins.Service, error) {
		return plugins.NewBaseService(sc.PluginName), nil
	})
	assert.True(t, errors.Is(err, plugins.ErrPhaseCompleted))
}

func TestSBServices_FactoryErrors(t *testing.T) {
	s, logging, router := newTestServices(t)
	boom := errors.New("boom")

	err := s.add(testContext(logging, router, "bad"), func(*ServiceContext) (plugins.Service, error) { return nil, boom })
	var pe *plugins.PluginError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad", pe.PluginID)
	assert.True(t, errors.Is(err, boom))

	err = s.add(testContext(logging, router, "nil"), func(*ServiceContext) (plugins.Service, error) { return nil, nil })
	assert.True(t, errors.Is(err, plugins.ErrInvalidPluginConfig))

	require.NoError(t, s.add(testContext(logging, router, "ok"), func(sc *ServiceContext) (plugins.Service, error) {
		return plugins.NewBaseService(sc.PluginName), nil
	}))
	err = s.add(testContext(logging, router, "ok"), func(sc *ServiceContext) (plugins.Service, error) {
		return plugins.NewBaseService(sc.PluginName), nil
	})
	assert.True(t, errors.Is(err, plugins.ErrPluginAlreadyExists))
}

func TestSBServices_Health(t *testing.T) {
	s, logging, router := newTestServices(t)
	degraded := &plugins.HealthReport{Status: plugins.HealthDegraded, Message: "slow upstream"}
	require.NoError(t, s.add(testContext(logging, router, "checked"), func(sc *ServiceContext) (plugins.Service, error) {
		return &stubService{BaseService: plugins.NewBaseService(sc.PluginName), health: degraded}, nil
	}))
	require.NoError(t, s.add(testContext(logging, router, "plain"), func(sc *ServiceContext) (plugins.Service, error) {
		return plugins.NewBaseService(sc.PluginName), nil
	}))

	h := s.Health()
	assert.Equal(t, plugins.HealthDegraded, h["checked"].Status)
	assert.Equal(t, "slow upstream", h["checked"].Message)
	assert.NotZero(t, h["checked"].Timestamp)
	assert.Equal(t, plugins.HealthHealthy, h["plain"].Status)
}

func TestRegistry_Duplicates(t *testing.T) {
	r := NewDefaultRegistry()
	err := r.RegisterEvents(events.DefaultBackendName, func(*PluginContext) (events.Backend, error) { return nil, nil })
	assert.True(t, errors.Is(err, plugins.ErrPluginAlreadyExists))

	names := r.Names()
	assert.Equal(t, []string{"config-default"}, names[plugins.TypeConfig])
	assert.Equal(t, []string{"logging-default", "logging-memory"}, names[plugins.TypeLogging])
	assert.Equal(t, []string{"metrics-otel", "metrics-prometheus"}, names[plugins.TypeMetrics])
	assert.Equal(t, []string{"events-default"}, names[plugins.TypeEvents])
	assert.Empty(t, names[plugins.TypeService])
}

func TestPluginContext_Decode(t *testing.T) {
	pc := &PluginContext{Name: "greeter", RawConfig: map[string]any{"greeting": "hey"}}
	var cfg greeterConfig
	require.NoError(t, pc.Decode(&cfg))
	assert.Equal(t, "hey", cfg.Greeting)

	pc.RawConfig = nil
	err := pc.Decode(&greeterConfig{})
	assert.True(t, errors.Is(err, plugins.ErrInvalidPluginConfig))
}
