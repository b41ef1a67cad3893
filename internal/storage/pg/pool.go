package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/taoyao-code/pile-gateway/internal/config"
)

// ErrNoDSN 未配置数据库
var ErrNoDSN = errors.New("database dsn is empty")

const (
	defaultMaxConns    = 20
	defaultMinConns    = 2
	defaultMaxLifetime = time.Hour
)

// NewPool 创建 pgx 连接池并探活
func NewPool(ctx context.Context, cfg cfgpkg.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if logger != nil {
		pcfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   &zapTraceLogger{logger: logger},
			LogLevel: traceLevel(logger),
		}
	}

	pcfg.MaxConns = defaultMaxConns
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	pcfg.MinConns = defaultMinConns
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}
	pcfg.MaxConnLifetime = defaultMaxLifetime
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pcfg.MaxConnIdleTime = 30 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// traceLevel 只有 debug 日志开启时才追踪每条 SQL
func traceLevel(logger *zap.Logger) tracelog.LogLevel {
	if logger.Core().Enabled(zapcore.DebugLevel) {
		return tracelog.LogLevelTrace
	}
	return tracelog.LogLevelWarn
}

// zapTraceLogger 将 pgx tracelog 输出转到 zap
type zapTraceLogger struct {
	logger *zap.Logger
}

func (l *zapTraceLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		l.logger.Debug("pgx: "+msg, fields...)
	case tracelog.LogLevelInfo:
		l.logger.Info("pgx: "+msg, fields...)
	case tracelog.LogLevelWarn:
		l.logger.Warn("pgx: "+msg, fields...)
	case tracelog.LogLevelError:
		l.logger.Error("pgx: "+msg, fields...)
	default:
		l.logger.Info("pgx: "+msg, fields...)
	}
}
