package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, ":8057", cfg.TCP.Addr)
	assert.Equal(t, 100*time.Millisecond, cfg.TCP.SendInterval)
	assert.Equal(t, uint8(0x64), cfg.Protocol.MinNewProtocolVersion)
	assert.Equal(t, 10, cfg.Protocol.HeartbeatMinSec)
	assert.Equal(t, 250, cfg.Protocol.HeartbeatMaxSec)
	assert.Equal(t, "strict", cfg.Protocol.ChecksumPolicy)
	assert.Equal(t, "uplink", cfg.Protocol.IdentityRule)
	assert.Equal(t, 3, cfg.Persistence.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Persistence.RetryInitial)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := `
tcp:
  addr: ":9000"
protocol:
  checksumPolicy: lenient
  identityRule: legacy
  minNewProtocolVersion: 80
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.TCP.Addr)
	assert.Equal(t, "lenient", cfg.Protocol.ChecksumPolicy)
	assert.Equal(t, "legacy", cfg.Protocol.IdentityRule)
	assert.Equal(t, uint8(80), cfg.Protocol.MinNewProtocolVersion)
}

func TestValidate(t *testing.T) {
	t.Run("心跳区间非法", func(t *testing.T) {
		cfg := Config{Protocol: ProtocolConfig{HeartbeatMinSec: 300, HeartbeatMaxSec: 250, ChecksumPolicy: "strict", IdentityRule: "uplink"}, Session: SessionConfig{TimeoutMultiplier: 3}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("未知校验策略", func(t *testing.T) {
		cfg := Config{Protocol: ProtocolConfig{HeartbeatMinSec: 10, HeartbeatMaxSec: 250, ChecksumPolicy: "off", IdentityRule: "uplink"}, Session: SessionConfig{TimeoutMultiplier: 3}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("合法配置", func(t *testing.T) {
		cfg := Config{Protocol: ProtocolConfig{HeartbeatMinSec: 10, HeartbeatMaxSec: 250, ChecksumPolicy: "lenient", IdentityRule: "legacy"}, Session: SessionConfig{TimeoutMultiplier: 2}}
		assert.NoError(t, cfg.Validate())
	})
}
