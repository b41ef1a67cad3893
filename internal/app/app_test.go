package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/dispatch"
	"github.com/taoyao-code/pile-gateway/internal/events"
	"github.com/taoyao-code/pile-gateway/internal/health"
	"github.com/taoyao-code/pile-gateway/internal/metrics"
	"github.com/taoyao-code/pile-gateway/internal/storage"
	"github.com/taoyao-code/pile-gateway/internal/storage/stations"
)

func TestServerID(t *testing.T) {
	t.Run("配置优先", func(t *testing.T) {
		t.Setenv("SERVER_ID", "from-env")
		assert.Equal(t, "gw-01", ServerID("gw-01"))
	})
	t.Run("环境变量", func(t *testing.T) {
		t.Setenv("SERVER_ID", "from-env")
		assert.Equal(t, "from-env", ServerID(""))
	})
	t.Run("自动生成", func(t *testing.T) {
		t.Setenv("SERVER_ID", "")
		a, b := ServerID(""), ServerID("")
		assert.Regexp(t, `^pile-gateway-.+-[0-9a-f]{8}$`, a)
		assert.NotEqual(t, a, b)
	})
}

func TestExampleConfig(t *testing.T) {
	cfg, err := cfgpkg.Load("../../configs/example.yaml")
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.TCP.SendInterval)
	assert.Equal(t, uint8(0x64), cfg.Protocol.MinNewProtocolVersion)
	assert.Equal(t, "strict", cfg.Protocol.ChecksumPolicy)
	assert.Equal(t, "uplink", cfg.Protocol.IdentityRule)
	assert.Equal(t, 3, cfg.Persistence.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Persistence.RetryInitial)
	assert.Empty(t, cfg.Database.DSN)

	list, err := stations.Load("../../" + cfg.Persistence.StationCatalog)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestConnectDBAndMigrate_NoDSN(t *testing.T) {
	pool, err := ConnectDBAndMigrate(context.Background(), cfgpkg.DatabaseConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestNewStores_Memory(t *testing.T) {
	stores, err := NewStores(context.Background(), nil, cfgpkg.PersistenceConfig{}, zap.NewNop())
	require.NoError(t, err)

	mem, ok := stores.Devices.(*storage.MemoryStore)
	require.True(t, ok)
	assert.Same(t, mem, stores.Audit)
	assert.Same(t, mem, stores.CmdLogs)
}

func TestNewRedisClient_Disabled(t *testing.T) {
	c, err := NewRedisClient(context.Background(), cfgpkg.RedisConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNATS_Disabled(t *testing.T) {
	nc, err := NewNATS(cfgpkg.NATSConfig{}, "gw-01", zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, nc)
	assert.IsType(t, events.NopPublisher{}, NewPublisher(nil, cfgpkg.NATSConfig{}, "gw-01", zap.NewNop()))
}

func TestRequestFromDownlink(t *testing.T) {
	req := RequestFromDownlink(events.DownlinkCommand{
		Identity:      "860000000000001",
		Action:        dispatch.ActionStart,
		Port:          2,
		OrderID:       77,
		ChargingMode:  1,
		ChargingParam: 3600,
	})
	assert.Equal(t, dispatch.Request{
		Identity:      "860000000000001",
		Action:        dispatch.ActionStart,
		Port:          2,
		OrderID:       77,
		ChargingMode:  1,
		ChargingParam: 3600,
		Wait:          downlinkWait,
	}, req)
}

func TestDownlinkHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, facade := NewDispatch(cfgpkg.DispatchConfig{PendingTTL: time.Minute}, reg, metrics.NewAppMetrics(reg), storage.NewMemoryStore(), zap.NewNop())
	h := DownlinkHandler(facade)

	t.Run("设备离线", func(t *testing.T) {
		_, err := h(context.Background(), events.DownlinkCommand{Identity: "860000000000001", Action: dispatch.ActionStop, Port: 1, OrderID: 5})
		assert.ErrorIs(t, err, dispatch.ErrDeviceOffline)
	})
	t.Run("未知动作", func(t *testing.T) {
		_, err := h(context.Background(), events.DownlinkCommand{Identity: "860000000000001", Action: "reboot"})
		assert.ErrorIs(t, err, dispatch.ErrInvalidCommand)
	})
}

func TestNewHTTPServer_Probes(t *testing.T) {
	cfg := &cfgpkg.Config{
		HTTP:    cfgpkg.HTTPConfig{Addr: "127.0.0.1:0"},
		Metrics: cfgpkg.MetricsConfig{Enable: true, Path: "/metrics"},
	}
	ready := health.New(ReadyStorage, ReadyTCP)
	agg := NewHealthAggregator(ready, nil, nil, nil)
	reg, _ := NewMetrics()
	srv := NewHTTPServer(cfg, metrics.Handler(reg), agg, ready, zap.NewNop())

	get := func(path string) int {
		w := httptest.NewRecorder()
		srv.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready"))
	assert.Equal(t, http.StatusOK, get("/metrics"))

	ready.Set(ReadyStorage, true)
	ready.Set(ReadyTCP, true)
	assert.Equal(t, http.StatusOK, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/health/ready"))
}
