package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNoSource = errors.New("migrations source is empty")

// Runner 按版本顺序执行 NNNN_xxx_up.sql，已执行的版本记录在 schema_migrations
type Runner struct {
	Dir    string
	FS     fs.FS // 非空时优先于 Dir
	Logger *zap.Logger
}

// Migration 一个向上迁移文件
type Migration struct {
	Version int64
	Path    string
}

// EnsureTable 保证 schema_migrations 表存在
func EnsureTable(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version BIGINT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`)
	return err
}

// AppliedVersions 已应用版本
func AppliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	res := make(map[int64]bool, len(versions))
	for _, v := range versions {
		res[v] = true
	}
	return res, nil
}

func (r Runner) source() (fs.FS, error) {
	if r.FS != nil {
		return r.FS, nil
	}
	if r.Dir == "" {
		return nil, ErrNoSource
	}
	return os.DirFS(r.Dir), nil
}

// Discover 扫描 *_up.sql 按版本排序；文件名前缀不是数字的忽略，重复版本报错
func Discover(fsys fs.FS) ([]Migration, error) {
	var files []Migration
	seen := make(map[int64]string)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := path.Base(p)
		if !strings.HasSuffix(name, "_up.sql") {
			return nil
		}
		prefix, _, _ := strings.Cut(name, "_")
		ver, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil
		}
		if prev, dup := seen[ver]; dup {
			return fmt.Errorf("duplicate migration version %d: %s and %s", ver, prev, p)
		}
		seen[ver] = p
		files = append(files, Migration{Version: ver, Path: p})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// Up 在各自事务中执行未应用的迁移，返回本次执行的数量
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) (int, error) {
	fsys, err := r.source()
	if err != nil {
		return 0, err
	}
	if err := EnsureTable(ctx, db); err != nil {
		return 0, err
	}
	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	ups, err := Discover(fsys)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range ups {
		if applied[m.Version] {
			continue
		}
		content, err := fs.ReadFile(fsys, m.Path)
		if err != nil {
			return n, err
		}
		err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("migration %s: %w", m.Path, err)
		}
		n++
		if r.Logger != nil {
			r.Logger.Info("migration applied", zap.Int64("version", m.Version), zap.String("file", m.Path))
		}
	}
	return n, nil
}
