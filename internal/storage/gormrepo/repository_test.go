package gormrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
	"github.com/taoyao-code/pile-gateway/internal/migrate"
	"github.com/taoyao-code/pile-gateway/internal/storage"
	"github.com/taoyao-code/pile-gateway/internal/storage/models"
	"github.com/taoyao-code/pile-gateway/internal/storage/pg"
)

// 需要 PILE_TEST_PG_DSN 指向一个可写的测试库，否则跳过
func setupRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("PILE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PILE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, cfgpkg.DatabaseConfig{DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = migrate.Runner{Dir: "../../../db/migrations"}.Up(ctx, pool)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE cmd_log, ports, devices, stations RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	db, err := Open(pool)
	require.NoError(t, err)
	return New(db)
}

func TestRepository_UpsertLoginAssignsStation(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	n, err := repo.UpsertStations(ctx, []models.Station{{Code: "A", Name: "A"}, {Code: "B", Name: "B"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	at := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpsertLogin(ctx, storage.LoginRecord{
		Identity: "861197062934387", PortCount: 2, HardwareVersion: "HW1", At: at,
	}))
	d, err := repo.GetDevice(ctx, "861197062934387")
	require.NoError(t, err)
	require.NotNil(t, d.StationID)
	first := *d.StationID

	t.Run("再次登录不改站点", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, repo.UpsertLogin(ctx, storage.LoginRecord{Identity: "861197062934387", PortCount: 4}))
		}
		d, err := repo.GetDevice(ctx, "861197062934387")
		require.NoError(t, err)
		assert.Equal(t, first, *d.StationID)
		assert.Equal(t, int16(4), d.PortCount)
	})
}

func TestRepository_SaveHeartbeat(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertLogin(ctx, storage.LoginRecord{Identity: "861197062934387", PortCount: 2}))
	require.NoError(t, repo.SaveHeartbeat(ctx, storage.HeartbeatRecord{
		Identity: "861197062934387", Signal: 25, Temperature: -3,
		Ports: []storage.PortState{{No: 1, Status: 1}, {No: 2, Status: 0}},
	}))
	require.NoError(t, repo.SaveHeartbeat(ctx, storage.HeartbeatRecord{
		Identity: "861197062934387", Ports: []storage.PortState{{No: 1, Status: 0}},
	}))

	d, err := repo.GetDevice(ctx, "861197062934387")
	require.NoError(t, err)
	assert.Nil(t, d.StationID)
	require.Len(t, d.Ports, 2)
	assert.Equal(t, int16(0), d.Ports[0].Status)

	list, err := repo.ListDevices(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.GetDevice(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
