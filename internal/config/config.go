package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	ServerID string `mapstructure:"serverId"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// TCPConfig TCP 网关配置
type TCPConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	MaxConnections int           `mapstructure:"maxConnections"`
	AcquireTimeout time.Duration `mapstructure:"acquireTimeout"`
	AcceptRate     int           `mapstructure:"acceptRate"`
	AcceptBurst    int           `mapstructure:"acceptBurst"`
	// SendInterval 每帧下发后的强制间隔（设备硬件限制，按连接生效）
	SendInterval time.Duration `mapstructure:"sendInterval"`
}

// ProtocolConfig 充电桩协议参数
type ProtocolConfig struct {
	// MinNewProtocolVersion 设备协议版本 >= 该值时登录应答返回 0xF0（切换新协议）
	MinNewProtocolVersion uint8 `mapstructure:"minNewProtocolVersion"`
	HeartbeatIntervalSec  int   `mapstructure:"heartbeatIntervalSec"`
	HeartbeatMinSec       int   `mapstructure:"heartbeatMinSec"`
	HeartbeatMaxSec       int   `mapstructure:"heartbeatMaxSec"`
	// ChecksumPolicy strict | lenient
	ChecksumPolicy string `mapstructure:"checksumPolicy"`
	// IdentityRule uplink | legacy
	IdentityRule string `mapstructure:"identityRule"`
	MaxFrameLen  int    `mapstructure:"maxFrameLen"`
}

// SessionConfig 会话超时清理配置
type SessionConfig struct {
	// TimeoutMultiplier 心跳间隔的倍数，超过即视为离线
	TimeoutMultiplier int           `mapstructure:"timeoutMultiplier"`
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
}

// DispatchConfig 下发命令配置
type DispatchConfig struct {
	PendingTTL time.Duration `mapstructure:"pendingTTL"`
}

// PersistenceConfig 持久化重试与熔断配置
type PersistenceConfig struct {
	RetryAttempts    int           `mapstructure:"retryAttempts"`
	RetryInitial     time.Duration `mapstructure:"retryInitial"`
	BreakerThreshold int           `mapstructure:"breakerThreshold"`
	BreakerTimeout   time.Duration `mapstructure:"breakerTimeout"`
	QueueSize        int           `mapstructure:"queueSize"`
	StationCatalog   string        `mapstructure:"stationCatalog"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	AutoMigrate     bool          `mapstructure:"autoMigrate"`
	MigrationsDir   string        `mapstructure:"migrationsDir"`
}

// RedisConfig Redis 在线状态影子配置
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	MinIdleConns int           `mapstructure:"minIdleConns"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	PresenceTTL  time.Duration `mapstructure:"presenceTTL"`
}

// NATSConfig 设备事件流与下行命令订阅
type NATSConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	URL             string `mapstructure:"url"`
	EventPrefix     string `mapstructure:"eventPrefix"`
	DownlinkSubject string `mapstructure:"downlinkSubject"`
}

// APIAuthConfig API Key 认证
type APIAuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// APIConfig REST 命令接口配置
type APIConfig struct {
	Auth APIAuthConfig `mapstructure:"auth"`
}

// Config 顶层配置结构
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	TCP         TCPConfig         `mapstructure:"tcp"`
	Protocol    ProtocolConfig    `mapstructure:"protocol"`
	Session     SessionConfig     `mapstructure:"session"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	API         APIConfig         `mapstructure:"api"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 IOT_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	// 环境变量覆盖：前缀 IOT_，并将点号替换为下划线
	v.SetEnvPrefix("IOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验互相依赖的取值
func (c *Config) Validate() error {
	p := c.Protocol
	if p.HeartbeatMinSec <= 0 || p.HeartbeatMaxSec > 255 || p.HeartbeatMinSec > p.HeartbeatMaxSec {
		return fmt.Errorf("invalid heartbeat bounds [%d,%d]", p.HeartbeatMinSec, p.HeartbeatMaxSec)
	}
	switch strings.ToLower(p.ChecksumPolicy) {
	case "strict", "lenient":
	default:
		return fmt.Errorf("invalid protocol.checksumPolicy %q", p.ChecksumPolicy)
	}
	switch strings.ToLower(p.IdentityRule) {
	case "uplink", "legacy":
	default:
		return fmt.Errorf("invalid protocol.identityRule %q", p.IdentityRule)
	}
	if c.Session.TimeoutMultiplier <= 0 {
		return fmt.Errorf("invalid session.timeoutMultiplier %d", c.Session.TimeoutMultiplier)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pile-gateway")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.serverId", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("tcp.addr", ":8057")
	v.SetDefault("tcp.readTimeout", "300s")
	v.SetDefault("tcp.writeTimeout", "10s")
	v.SetDefault("tcp.maxConnections", 5000)
	v.SetDefault("tcp.acquireTimeout", "2s")
	v.SetDefault("tcp.acceptRate", 200)
	v.SetDefault("tcp.acceptBurst", 400)
	v.SetDefault("tcp.sendInterval", "100ms")

	v.SetDefault("protocol.minNewProtocolVersion", 0x64)
	v.SetDefault("protocol.heartbeatIntervalSec", 60)
	v.SetDefault("protocol.heartbeatMinSec", 10)
	v.SetDefault("protocol.heartbeatMaxSec", 250)
	v.SetDefault("protocol.checksumPolicy", "strict")
	v.SetDefault("protocol.identityRule", "uplink")
	v.SetDefault("protocol.maxFrameLen", 1024)

	v.SetDefault("session.timeoutMultiplier", 3)
	v.SetDefault("session.sweepInterval", "30s")

	v.SetDefault("dispatch.pendingTTL", "2m")

	v.SetDefault("persistence.retryAttempts", 3)
	v.SetDefault("persistence.retryInitial", "1s")
	v.SetDefault("persistence.breakerThreshold", 5)
	v.SetDefault("persistence.breakerTimeout", "30s")
	v.SetDefault("persistence.queueSize", 64)
	v.SetDefault("persistence.stationCatalog", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/pile-gateway.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "1h")
	v.SetDefault("database.autoMigrate", true)
	v.SetDefault("database.migrationsDir", "db/migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 20)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
	v.SetDefault("redis.presenceTTL", "10m")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.eventPrefix", "pile.events")
	v.SetDefault("nats.downlinkSubject", "pile.downlink.*")

	v.SetDefault("api.auth.enabled", false)
	v.SetDefault("api.auth.apiKeys", []string{})
}
