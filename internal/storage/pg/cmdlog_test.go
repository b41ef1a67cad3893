package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/storage"
)

func TestCmdLogArgs(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)

	t.Run("下行命令", func(t *testing.T) {
		args := cmdLogArgs(storage.CmdLogRecord{
			Identity:  "861197062934387",
			Control:   0x83,
			Direction: storage.DirectionDown,
			Port:      1,
			OrderID:   42,
			Payload:   []byte{1, 2},
			Success:   true,
		}, at)
		require.Len(t, args, 9)
		assert.Equal(t, "861197062934387", args[0])
		assert.Equal(t, int16(0x83), args[1])
		assert.Equal(t, int16(1), args[2])
		assert.Equal(t, int16(1), args[3])
		assert.Equal(t, int64(42), args[4])
		assert.Nil(t, args[7])
		assert.Equal(t, at, args[8])
	})

	t.Run("空字段写NULL", func(t *testing.T) {
		args := cmdLogArgs(storage.CmdLogRecord{Identity: "A", Control: 0x85, Error: "device offline"}, at)
		assert.Nil(t, args[3])
		assert.Nil(t, args[4])
		assert.Equal(t, "device offline", args[7])
	})
}

func TestNewPool_NoDSN(t *testing.T) {
	_, err := NewPool(context.Background(), cfgpkg.DatabaseConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoDSN)
}
