package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ServerID 实例ID：配置 > 环境变量 SERVER_ID > pile-gateway-{hostname}-{uuid前8位}
func ServerID(configured string) string {
	if configured != "" {
		return configured
	}
	if id := os.Getenv("SERVER_ID"); id != "" {
		return id
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("pile-gateway-%s-%s", hostname, uuid.NewString()[:8])
}
