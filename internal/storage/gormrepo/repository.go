package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taoyao-code/pile-gateway/internal/storage"
	"github.com/taoyao-code/pile-gateway/internal/storage/models"
)

// Open 复用 pgx 连接池构造 *gorm.DB，SQL 日志由 pgx tracelog 负责
func Open(pool *pgxpool.Pool) (*gorm.DB, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return db, nil
}

// Repository 基于 GORM 的 DeviceStore 实现。
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ storage.DeviceStore = (*Repository)(nil)

// New 返回一个使用给定 *gorm.DB 的 Repository。
func New(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// UpsertLogin 按 IMEI 写入登录信息；首次出现的设备随机分配站点
func (r *Repository) UpsertLogin(ctx context.Context, rec storage.LoginRecord) error {
	at := rec.At
	if at.IsZero() {
		at = r.now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Device
		err := tx.Select("id").Where("imei = ?", rec.Identity).Take(&existing).Error
		var stationID *int64
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			stationID, err = randomStation(tx)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}

		device := &models.Device{
			IMEI:            rec.Identity,
			StationID:       stationID,
			PortCount:       int16(rec.PortCount),
			HardwareVersion: rec.HardwareVersion,
			SoftwareVersion: rec.SoftwareVersion,
			CCID:            rec.CCID,
			ProtocolVersion: int16(rec.ProtocolVersion),
			LoginReason:     int16(rec.LoginReason),
			RemoteAddr:      rec.RemoteAddr,
			LastLoginAt:     &at,
			LastSeenAt:      &at,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "imei"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"port_count", "hw_version", "sw_version", "ccid",
				"protocol_version", "login_reason", "remote_addr",
				"last_login_at", "last_seen_at", "updated_at",
			}),
		}).Create(device).Error
	})
}

// randomStation 随机取一个站点；没有站点时返回 nil
func randomStation(tx *gorm.DB) (*int64, error) {
	var st models.Station
	err := tx.Select("id").Order("random()").Limit(1).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick station: %w", err)
	}
	return &st.ID, nil
}

// SaveHeartbeat 刷新设备信号/温度/最近时间，并写入端口快照
func (r *Repository) SaveHeartbeat(ctx context.Context, rec storage.HeartbeatRecord) error {
	at := rec.At
	if at.IsZero() {
		at = r.now()
	}
	signal := int16(rec.Signal)
	temp := int16(rec.Temperature)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		device := &models.Device{
			IMEI:        rec.Identity,
			PortCount:   int16(len(rec.Ports)),
			Signal:      &signal,
			Temperature: &temp,
			LastSeenAt:  &at,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "imei"}},
			DoUpdates: clause.AssignmentColumns([]string{"signal", "temperature", "last_seen_at", "updated_at"}),
		}).Create(device).Error
		if err != nil {
			return err
		}
		if len(rec.Ports) == 0 {
			return nil
		}

		var id int64
		if err := tx.Model(&models.Device{}).Where("imei = ?", rec.Identity).Pluck("id", &id).Error; err != nil {
			return err
		}
		ports := make([]models.Port, 0, len(rec.Ports))
		for _, p := range rec.Ports {
			ports = append(ports, models.Port{DeviceID: id, PortNo: int16(p.No), Status: int16(p.Status), UpdatedAt: at})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "port_no"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).Create(&ports).Error
	})
}

// GetDevice 按 IMEI 查询设备及端口
func (r *Repository) GetDevice(ctx context.Context, identity string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).
		Preload("Ports", func(db *gorm.DB) *gorm.DB { return db.Order("port_no") }).
		Where("imei = ?", identity).
		Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// ListDevices 分页返回设备列表，按 id 倒序。
func (r *Repository) ListDevices(ctx context.Context, limit, offset int) ([]models.Device, error) {
	var devices []models.Device
	q := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// UpsertStations 按 code 导入站点目录，返回写入条数
func (r *Repository) UpsertStations(ctx context.Context, stations []models.Station) (int64, error) {
	if len(stations) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "address", "updated_at"}),
	}).Create(&stations)
	return res.RowsAffected, res.Error
}
