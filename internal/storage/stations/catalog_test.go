package stations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	src := `
stations:
  - code: SZ-001
    name: 南山充电站
    address: 深圳市南山区
  - code: " SZ-002 "
`
	got, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SZ-001", got[0].Code)
	assert.Equal(t, "南山充电站", got[0].Name)
	require.NotNil(t, got[0].Address)
	assert.Equal(t, "SZ-002", got[1].Code)
	assert.Equal(t, "SZ-002", got[1].Name)
	assert.Nil(t, got[1].Address)
}

func TestParse_Invalid(t *testing.T) {
	t.Run("空code", func(t *testing.T) {
		_, err := Parse(strings.NewReader("stations:\n  - name: x\n"))
		assert.ErrorIs(t, err, ErrEmptyCode)
	})
	t.Run("重复code", func(t *testing.T) {
		_, err := Parse(strings.NewReader("stations:\n  - code: A\n  - code: A\n"))
		assert.ErrorIs(t, err, ErrDuplicateCode)
	})
	t.Run("未知字段", func(t *testing.T) {
		_, err := Parse(strings.NewReader("stations:\n  - code: A\n    lat: 1\n"))
		assert.Error(t, err)
	})
	t.Run("空文件", func(t *testing.T) {
		got, err := Parse(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stations:\n  - code: A\n"), 0o600))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
