package models

import (
	"time"
)

// 注意：
// - 与 db/migrations/0001_init_up.sql 保持一致
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// Station 映射 stations 表，由站点目录文件导入
type Station struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code      string    `gorm:"column:code;type:text;not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"column:name;type:text;not null" json:"name"`
	Address   *string   `gorm:"column:address;type:text" json:"address,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Station) TableName() string { return "stations" }

// Device 映射 devices 表，IMEI 唯一
type Device struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IMEI      string `gorm:"column:imei;type:text;not null;uniqueIndex" json:"imei"`
	StationID *int64 `gorm:"column:station_id" json:"stationId,omitempty"`

	PortCount       int16  `gorm:"column:port_count;not null;default:0" json:"portCount"`
	HardwareVersion string `gorm:"column:hw_version;type:text" json:"hardwareVersion"`
	SoftwareVersion string `gorm:"column:sw_version;type:text" json:"softwareVersion"`
	CCID            string `gorm:"column:ccid;type:text" json:"ccid"`
	ProtocolVersion int16  `gorm:"column:protocol_version;not null;default:0" json:"protocolVersion"`
	LoginReason     int16  `gorm:"column:login_reason;not null;default:0" json:"loginReason"`
	RemoteAddr      string `gorm:"column:remote_addr;type:text" json:"remoteAddr"`

	// 最近一次心跳
	Signal      *int16     `gorm:"column:signal" json:"signal,omitempty"`
	Temperature *int16     `gorm:"column:temperature" json:"temperature,omitempty"`
	LastLoginAt *time.Time `gorm:"column:last_login_at" json:"lastLoginAt,omitempty"`
	LastSeenAt  *time.Time `gorm:"column:last_seen_at" json:"lastSeenAt,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	Ports []Port `gorm:"foreignKey:DeviceID" json:"ports,omitempty"`
}

func (Device) TableName() string { return "devices" }

// Port 映射 ports 表（复合主键：device_id + port_no）
type Port struct {
	DeviceID int64 `gorm:"column:device_id;primaryKey" json:"-"`
	PortNo   int16 `gorm:"column:port_no;primaryKey" json:"portNo"`
	// 端口状态：0 空闲 1 使用中 2 保险丝熔断 3 继电器粘连 4 禁用
	Status    int16     `gorm:"column:status;not null;default:0" json:"status"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Port) TableName() string { return "ports" }

// CmdLog 映射 cmd_log 表（上下行指令日志）
type CmdLog struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	IMEI      string    `gorm:"column:imei;type:text;not null;index:idx_cmdlog_imei_time,priority:1" json:"imei"`
	Cmd       int16     `gorm:"column:cmd;not null" json:"cmd"`
	Direction int16     `gorm:"column:direction;not null" json:"direction"` // 0=UP, 1=DOWN
	PortNo    *int16    `gorm:"column:port_no" json:"portNo,omitempty"`
	OrderID   *int64    `gorm:"column:order_id" json:"orderId,omitempty"`
	Payload   []byte    `gorm:"column:payload" json:"payload,omitempty"`
	Success   bool      `gorm:"column:success;not null" json:"success"`
	Error     *string   `gorm:"column:error;type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_cmdlog_imei_time,priority:2,sort:desc" json:"createdAt"`
}

func (CmdLog) TableName() string { return "cmd_log" }
