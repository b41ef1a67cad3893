package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/tcpserver"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock", Latency: time.Millisecond}
}

func TestAggregator(t *testing.T) {
	ctx := context.Background()

	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"db", StatusHealthy}, &mockChecker{"tcp", StatusHealthy})
		assert.Equal(t, StatusHealthy, agg.OverallStatus(ctx))
		assert.True(t, agg.Ready(ctx))
	})

	t.Run("部分降级仍就绪", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"db", StatusHealthy}, &mockChecker{"redis", StatusDegraded})
		assert.Equal(t, StatusDegraded, agg.OverallStatus(ctx))
		assert.True(t, agg.Ready(ctx))
	})

	t.Run("任一不健康", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"redis", StatusDegraded}, &mockChecker{"tcp", StatusUnhealthy})
		assert.Equal(t, StatusUnhealthy, agg.OverallStatus(ctx))
		assert.False(t, agg.Ready(ctx))
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"initial", StatusHealthy})
		agg.AddChecker(&mockChecker{"added", StatusHealthy})
		agg.AddChecker(nil)
		assert.Len(t, agg.CheckAll(ctx), 2)
	})

	t.Run("检查超时", func(t *testing.T) {
		agg := NewAggregator(CheckFunc{ComponentName: "slow", Fn: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			return CheckResult{Status: StatusUnhealthy, Message: ctx.Err().Error()}
		}})
		agg.timeout = 20 * time.Millisecond
		r := agg.CheckAll(ctx)["slow"]
		assert.Equal(t, StatusUnhealthy, r.Status)
		assert.Positive(t, r.Latency)
	})
}

func TestReadiness(t *testing.T) {
	r := New("database", "tcp")
	assert.False(t, r.Ready())
	assert.Equal(t, []string{"database", "tcp"}, r.Pending())
	assert.Equal(t, StatusUnhealthy, r.Check(context.Background()).Status)

	r.Set("database", true)
	r.Set("tcp", true)
	assert.True(t, r.Ready())
	assert.Empty(t, r.Pending())
	assert.Equal(t, StatusHealthy, r.Check(context.Background()).Status)
}

func TestTCPChecker(t *testing.T) {
	t.Run("未监听", func(t *testing.T) {
		s := tcpserver.New(cfgpkg.TCPConfig{}, zap.NewNop())
		assert.Equal(t, StatusUnhealthy, NewTCPChecker(s, nil).Check(context.Background()).Status)
	})

	t.Run("监听中", func(t *testing.T) {
		s := tcpserver.New(cfgpkg.TCPConfig{Addr: "127.0.0.1:0", MaxConnections: 10}, zap.NewNop())
		require.NoError(t, s.Start())
		defer s.Shutdown(context.Background())

		r := NewTCPChecker(s, func() int { return 4 }).Check(context.Background())
		assert.Equal(t, StatusHealthy, r.Status)
		assert.Equal(t, 4, r.Details["online_sessions"])
		assert.Equal(t, 10, r.Details["max_connections"])
	})
}

func TestHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ready := New("tcp")
	r := gin.New()
	RegisterHTTPRoutes(r, NewAggregator(ready, &mockChecker{"redis", StatusDegraded}))

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)

	ready.Set("tcp", true)
	assert.Equal(t, http.StatusOK, get("/health/ready").Code)

	w := get("/health")
	require.Equal(t, http.StatusOK, w.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Checks, "startup")
	assert.Contains(t, report.Checks, "redis")
}
