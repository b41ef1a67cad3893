package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key 设计
const (
	// presence:device:{imei} -> Hash{server, endpoint, remote, connected_at, last_seen}
	keyDevicePrefix = "presence:device:"
	// presence:server:{serverID}:devices -> Set[imei]
	keyServerDevicesPrefix = "presence:server:"
)

var ErrNotFound = errors.New("presence not found")

// 仅当记录仍属于本实例的同一连接时才删除，避免误删被其他实例接管的记录
var offlineScript = redis.NewScript(`
local s = redis.call("HGET", KEYS[1], "server")
local e = redis.call("HGET", KEYS[1], "endpoint")
if s == ARGV[1] and e == ARGV[2] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`)

// PresenceRecord 设备在线影子：设备当前连在哪个网关实例上
type PresenceRecord struct {
	Identity    string    `json:"imei"`
	ServerID    string    `json:"serverId"`
	EndpointID  uint64    `json:"endpointId"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Presence 多实例部署下的在线状态影子。
// 进程内 session.Registry 是权威数据，这里只做跨实例可见性。
type Presence struct {
	client   redis.UniversalClient
	serverID string
	ttl      time.Duration
}

func NewPresence(client redis.UniversalClient, serverID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Presence{client: client, serverID: serverID, ttl: ttl}
}

func deviceKey(imei string) string { return keyDevicePrefix + imei }

func (p *Presence) serverKey() string {
	return fmt.Sprintf("%s%s:devices", keyServerDevicesPrefix, p.serverID)
}

// Online 登录成功后写入影子记录
func (p *Presence) Online(ctx context.Context, rec PresenceRecord) error {
	key := deviceKey(rec.Identity)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key,
		"server", p.serverID,
		"endpoint", strconv.FormatUint(rec.EndpointID, 10),
		"remote", rec.RemoteAddr,
		"connected_at", rec.ConnectedAt.UnixMilli(),
		"last_seen", rec.LastSeen.UnixMilli(),
	)
	pipe.Expire(ctx, key, p.ttl)
	pipe.SAdd(ctx, p.serverKey(), rec.Identity)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch 心跳刷新 last_seen 与过期时间
func (p *Presence) Touch(ctx context.Context, imei string, t time.Time) error {
	key := deviceKey(imei)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, "last_seen", t.UnixMilli())
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Offline 连接关闭或超时后删除影子记录
func (p *Presence) Offline(ctx context.Context, imei string, endpointID uint64) error {
	if err := offlineScript.Run(ctx, p.client, []string{deviceKey(imei)}, p.serverID, strconv.FormatUint(endpointID, 10)).Err(); err != nil {
		return err
	}
	return p.client.SRem(ctx, p.serverKey(), imei).Err()
}

// Lookup 查询设备影子记录
func (p *Presence) Lookup(ctx context.Context, imei string) (*PresenceRecord, error) {
	vals, err := p.client.HGetAll(ctx, deviceKey(imei)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	rec := &PresenceRecord{Identity: imei, ServerID: vals["server"], RemoteAddr: vals["remote"]}
	rec.EndpointID, _ = strconv.ParseUint(vals["endpoint"], 10, 64)
	rec.ConnectedAt = parseMillis(vals["connected_at"])
	rec.LastSeen = parseMillis(vals["last_seen"])
	return rec, nil
}

// Cleanup 删除本实例登记的全部影子记录（优雅关闭）
func (p *Presence) Cleanup(ctx context.Context) error {
	imeis, err := p.client.SMembers(ctx, p.serverKey()).Result()
	if err != nil {
		return err
	}
	for _, imei := range imeis {
		rec, err := p.Lookup(ctx, imei)
		if err != nil || rec.ServerID != p.serverID {
			continue
		}
		p.client.Del(ctx, deviceKey(imei))
	}
	return p.client.Del(ctx, p.serverKey()).Err()
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
