package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taoyao-code/pile-gateway/internal/storage/models"
)

// MemoryStore 未配置数据库时使用的进程内存储
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	devices map[string]*models.Device
	cmdLogs []CmdLogRecord
	maxLogs int
}

var (
	_ DeviceStore  = (*MemoryStore)(nil)
	_ CmdLogger    = (*MemoryStore)(nil)
	_ CmdLogReader = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]*models.Device), maxLogs: 1000}
}

func (m *MemoryStore) UpsertLogin(_ context.Context, rec LoginRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.deviceLocked(rec.Identity, at)
	d.PortCount = int16(rec.PortCount)
	d.HardwareVersion = rec.HardwareVersion
	d.SoftwareVersion = rec.SoftwareVersion
	d.CCID = rec.CCID
	d.ProtocolVersion = int16(rec.ProtocolVersion)
	d.LoginReason = int16(rec.LoginReason)
	d.RemoteAddr = rec.RemoteAddr
	d.LastLoginAt = &at
	d.LastSeenAt = &at
	d.UpdatedAt = at
	return nil
}

func (m *MemoryStore) SaveHeartbeat(_ context.Context, rec HeartbeatRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	signal := int16(rec.Signal)
	temp := int16(rec.Temperature)

	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.deviceLocked(rec.Identity, at)
	d.Signal = &signal
	d.Temperature = &temp
	d.LastSeenAt = &at
	d.UpdatedAt = at
	for _, p := range rec.Ports {
		updated := false
		for i := range d.Ports {
			if d.Ports[i].PortNo == int16(p.No) {
				d.Ports[i].Status = int16(p.Status)
				d.Ports[i].UpdatedAt = at
				updated = true
				break
			}
		}
		if !updated {
			d.Ports = append(d.Ports, models.Port{DeviceID: d.ID, PortNo: int16(p.No), Status: int16(p.Status), UpdatedAt: at})
		}
	}
	return nil
}

func (m *MemoryStore) deviceLocked(identity string, at time.Time) *models.Device {
	d, ok := m.devices[identity]
	if !ok {
		m.nextID++
		d = &models.Device{ID: m.nextID, IMEI: identity, CreatedAt: at}
		m.devices[identity] = d
	}
	return d
}

func (m *MemoryStore) GetDevice(_ context.Context, identity string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDevice(d), nil
}

func (m *MemoryStore) ListDevices(_ context.Context, limit, offset int) ([]models.Device, error) {
	m.mu.RLock()
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *cloneDevice(d))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset > 0 {
		if offset >= len(out) {
			return []models.Device{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// AppendCmdLog 只保留最近 maxLogs 条
func (m *MemoryStore) AppendCmdLog(_ context.Context, rec CmdLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmdLogs = append(m.cmdLogs, rec)
	if over := len(m.cmdLogs) - m.maxLogs; over > 0 {
		m.cmdLogs = append([]CmdLogRecord(nil), m.cmdLogs[over:]...)
	}
	return nil
}

// ListCmdLogs 指定设备最近的审计日志，按时间倒序
func (m *MemoryStore) ListCmdLogs(_ context.Context, identity string, limit int) ([]models.CmdLog, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CmdLog, 0, limit)
	for i := len(m.cmdLogs) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.cmdLogs[i]
		if r.Identity != identity {
			continue
		}
		l := models.CmdLog{
			ID:        int64(i + 1),
			IMEI:      r.Identity,
			Cmd:       int16(r.Control),
			Direction: int16(r.Direction),
			Payload:   r.Payload,
			Success:   r.Success,
			CreatedAt: r.At,
		}
		if r.Port > 0 {
			p := int16(r.Port)
			l.PortNo = &p
		}
		if r.OrderID > 0 {
			o := int64(r.OrderID)
			l.OrderID = &o
		}
		if r.Error != "" {
			e := r.Error
			l.Error = &e
		}
		out = append(out, l)
	}
	return out, nil
}

func cloneDevice(d *models.Device) *models.Device {
	c := *d
	c.Ports = append([]models.Port(nil), d.Ports...)
	return &c
}
