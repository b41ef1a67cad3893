package storage

import (
	"context"
	"errors"
	"time"

	"github.com/taoyao-code/pile-gateway/internal/storage/models"
)

// ErrNotFound 设备不存在
var ErrNotFound = errors.New("storage: not found")

// LoginRecord 一次成功登录需要落库的设备信息
type LoginRecord struct {
	Identity        string
	PortCount       uint8
	HardwareVersion string
	SoftwareVersion string
	CCID            string
	ProtocolVersion uint8
	LoginReason     uint8
	RemoteAddr      string
	At              time.Time
}

// PortState 心跳中单个端口的状态
type PortState struct {
	No     uint8
	Status uint8
}

// HeartbeatRecord 心跳落库内容
type HeartbeatRecord struct {
	Identity    string
	Signal      uint8
	Temperature int8
	Ports       []PortState
	At          time.Time
}

// Direction 指令方向
type Direction int16

const (
	DirectionUp   Direction = 0
	DirectionDown Direction = 1
)

// CmdLogRecord 上下行指令审计
type CmdLogRecord struct {
	Identity  string
	Control   byte
	Direction Direction
	Port      uint8
	OrderID   uint32
	Payload   []byte
	Success   bool
	Error     string
	At        time.Time
}

// DeviceStore 设备与端口状态持久化，按 IMEI upsert。
// 首次出现的设备随机分配一个站点。
type DeviceStore interface {
	UpsertLogin(ctx context.Context, rec LoginRecord) error
	SaveHeartbeat(ctx context.Context, rec HeartbeatRecord) error
	GetDevice(ctx context.Context, identity string) (*models.Device, error)
	ListDevices(ctx context.Context, limit, offset int) ([]models.Device, error)
}

// CmdLogger 指令审计日志
type CmdLogger interface {
	AppendCmdLog(ctx context.Context, rec CmdLogRecord) error
}

// CmdLogReader 按设备查询最近的审计日志
type CmdLogReader interface {
	ListCmdLogs(ctx context.Context, identity string, limit int) ([]models.CmdLog, error)
}
