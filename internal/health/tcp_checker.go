package health

import (
	"context"
	"fmt"
	"time"

	"github.com/taoyao-code/pile-gateway/internal/tcpserver"
)

// TCPChecker 设备接入端口：监听状态、连接数利用率与在线会话数
type TCPChecker struct {
	server *tcpserver.Server
	online func() int
}

// NewTCPChecker online 返回当前在线会话数，可为空
func NewTCPChecker(server *tcpserver.Server, online func() int) *TCPChecker {
	return &TCPChecker{server: server, online: online}
}

func (c *TCPChecker) Name() string { return "tcp" }

func (c *TCPChecker) Check(context.Context) CheckResult {
	start := time.Now()
	addr := c.server.Addr()
	if addr == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not listening", Latency: time.Since(start)}
	}
	details := map[string]any{"addr": addr.String()}
	if c.online != nil {
		details["online_sessions"] = c.online()
	}

	l := c.server.Limiter()
	if l == nil {
		return CheckResult{Status: StatusHealthy, Message: "no limiting enabled", Details: details, Latency: time.Since(start)}
	}
	u := l.Utilization()
	details["active_connections"] = l.Current()
	details["max_connections"] = l.Max()
	details["rejected_total"] = l.Rejected()
	details["utilization"] = fmt.Sprintf("%.1f%%", u*100)

	status, msg := StatusHealthy, "ok"
	switch {
	case u > 0.95:
		status, msg = StatusUnhealthy, "connection limit near exhausted"
	case u > 0.8:
		status, msg = StatusDegraded, "high connection usage"
	}
	return CheckResult{Status: status, Message: msg, Details: details, Latency: time.Since(start)}
}
