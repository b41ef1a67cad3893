package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestInitLogger_WithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "gw.log")
	logger, err := InitLogger(cfgpkg.LoggingConfig{
		Level:  "debug",
		Format: "console",
		File:   cfgpkg.LumberjackConfig{Filename: file, MaxSizeMB: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("hello")
	_ = logger.Sync()
}
