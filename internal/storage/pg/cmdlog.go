package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/pile-gateway/internal/storage"
	"github.com/taoyao-code/pile-gateway/internal/storage/models"
)

// CmdLogRepo 基于 pgx 的指令审计日志
type CmdLogRepo struct {
	Pool *pgxpool.Pool
}

var (
	_ storage.CmdLogger    = (*CmdLogRepo)(nil)
	_ storage.CmdLogReader = (*CmdLogRepo)(nil)
)

func NewCmdLogRepo(pool *pgxpool.Pool) *CmdLogRepo {
	return &CmdLogRepo{Pool: pool}
}

// AppendCmdLog 插入一条指令日志
func (r *CmdLogRepo) AppendCmdLog(ctx context.Context, rec storage.CmdLogRecord) error {
	const q = `INSERT INTO cmd_log (imei, cmd, direction, port_no, order_id, payload, success, error, created_at)
               VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.Pool.Exec(ctx, q, cmdLogArgs(rec, at)...)
	return err
}

func cmdLogArgs(rec storage.CmdLogRecord, at time.Time) []any {
	var (
		port    any
		orderID any
		errText any
	)
	if rec.Port > 0 {
		port = int16(rec.Port)
	}
	if rec.OrderID > 0 {
		orderID = int64(rec.OrderID)
	}
	if rec.Error != "" {
		errText = rec.Error
	}
	return []any{rec.Identity, int16(rec.Control), int16(rec.Direction), port, orderID, rec.Payload, rec.Success, errText, at}
}

// ListCmdLogs 最近的指令日志，按时间倒序
func (r *CmdLogRepo) ListCmdLogs(ctx context.Context, identity string, limit int) ([]models.CmdLog, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, imei, cmd, direction, port_no, order_id, payload, success, error, created_at
               FROM cmd_log WHERE imei=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, identity, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CmdLog, error) {
		var l models.CmdLog
		err := row.Scan(&l.ID, &l.IMEI, &l.Cmd, &l.Direction, &l.PortNo, &l.OrderID, &l.Payload, &l.Success, &l.Error, &l.CreatedAt)
		return l, err
	})
}
