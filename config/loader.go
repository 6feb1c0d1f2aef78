// =============================================================================
// 📦 fogbow-manager 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("fogbow.yaml").
//	    WithEnvPrefix("FOGBOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fgan1/fogbow-manager/internal/server"
	"github.com/fgan1/fogbow-manager/manager"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 fogbow-manager 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server server.Config `yaml:"server" env:"SERVER"`

	// Manager 编排器配置
	Manager manager.Config `yaml:"manager" env:"MANAGER"`

	// Federation 联邦成员与 rendezvous 配置
	Federation FederationConfig `yaml:"federation" env:"FEDERATION"`

	// Compute 本地计算后端配置
	Compute ComputeConfig `yaml:"compute" env:"COMPUTE"`

	// Identity 身份提供方配置
	Identity IdentityConfig `yaml:"identity" env:"IDENTITY"`

	// Tunnel SSH 隧道端口配置
	Tunnel TunnelConfig `yaml:"tunnel" env:"TUNNEL"`

	// Journal 请求日志持久化配置
	Journal JournalConfig `yaml:"journal" env:"JOURNAL"`

	// Database 记账库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StaticMember 配置文件中固定的联邦成员，不会过期
type StaticMember struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// FederationConfig 联邦配置
type FederationConfig struct {
	// 固定成员列表（仅 YAML）
	Members []StaticMember `yaml:"members"`
	// rendezvous 地址，为空时不发心跳
	RendezvousAddress string `yaml:"rendezvous_address" env:"RENDEZVOUS_ADDRESS"`
	// 未收到心跳多久后移除动态成员
	MemberExpiry time.Duration `yaml:"member_expiry" env:"MEMBER_EXPIRY"`
	// 成员间 JWT 共享密钥
	PeerSecret string `yaml:"peer_secret" env:"PEER_SECRET"`
	// 成员间 bearer token 有效期
	PeerTokenTTL time.Duration `yaml:"peer_token_ttl" env:"PEER_TOKEN_TTL"`
	// 对等调用超时
	PeerTimeout time.Duration `yaml:"peer_timeout" env:"PEER_TIMEOUT"`
	// 私有 CA（PEM）
	CAFile string `yaml:"ca_file" env:"CA_FILE"`
	// 仅测试环境使用
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// Enabled 是否配置了任何联邦成员来源
func (f FederationConfig) Enabled() bool {
	return f.PeerSecret != "" && (len(f.Members) > 0 || f.RendezvousAddress != "")
}

// FlavorConfig 实例规格
type FlavorConfig struct {
	Name  string `yaml:"name"`
	CPU   int    `yaml:"cpu"`
	MemMB int    `yaml:"mem_mb"`
}

// ComputeConfig 计算后端配置
type ComputeConfig struct {
	// 规格列表（仅 YAML）
	Flavors []FlavorConfig `yaml:"flavors"`
	// 未指定规格时使用
	DefaultFlavor string `yaml:"default_flavor" env:"DEFAULT_FLAVOR"`
	// 配额
	MaxCPU       int `yaml:"max_cpu" env:"MAX_CPU"`
	MaxMemMB     int `yaml:"max_mem_mb" env:"MAX_MEM_MB"`
	MaxInstances int `yaml:"max_instances" env:"MAX_INSTANCES"`
}

// IdentityConfig 身份提供方配置
type IdentityConfig struct {
	// HMAC 签名密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// 签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// Token 有效期
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	// 过期后仍允许续签的时长
	RenewalGrace time.Duration `yaml:"renewal_grace" env:"RENEWAL_GRACE"`
	// 用户名 -> 密码（仅 YAML）
	Users map[string]string `yaml:"users"`
}

// TunnelConfig 隧道配置
type TunnelConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 对外公布的隧道主机
	Host string `yaml:"host" env:"HOST"`
	// 端口范围（闭区间）
	PortStart int `yaml:"port_start" env:"PORT_START"`
	PortEnd   int `yaml:"port_end" env:"PORT_END"`
}

// JournalConfig 请求日志配置
type JournalConfig struct {
	// 类型: memory, redis
	Type string `yaml:"type" env:"TYPE"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// Redis 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// Redis 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 记账库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 启动时执行版本化迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 不使用 TLS 连接 collector
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "FOGBOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 验证与辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Manager.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Federation.MemberExpiry <= 0 {
		errs = append(errs, "federation member_expiry must be positive")
	}
	if c.Federation.PeerTimeout <= 0 {
		errs = append(errs, "federation peer_timeout must be positive")
	}
	for _, m := range c.Federation.Members {
		if m.ID == "" || m.Address == "" {
			errs = append(errs, "federation members need id and address")
			break
		}
		if m.ID == c.Manager.MemberID {
			errs = append(errs, fmt.Sprintf("federation member %q is this manager", m.ID))
		}
	}

	if len(c.Compute.Flavors) == 0 {
		errs = append(errs, "compute needs at least one flavor")
	}
	if c.Compute.MaxInstances <= 0 {
		errs = append(errs, "compute max_instances must be positive")
	}

	if c.Identity.Secret == "" {
		errs = append(errs, "identity secret is required")
	}
	if c.Identity.TokenTTL <= 0 {
		errs = append(errs, "identity token_ttl must be positive")
	}

	if c.Tunnel.Enabled {
		if c.Tunnel.PortStart <= 0 || c.Tunnel.PortEnd > 65535 || c.Tunnel.PortStart > c.Tunnel.PortEnd {
			errs = append(errs, fmt.Sprintf("invalid tunnel port range %d-%d", c.Tunnel.PortStart, c.Tunnel.PortEnd))
		}
	}

	switch c.Journal.Type {
	case "memory":
	case "redis":
		if c.Journal.Addr == "" {
			errs = append(errs, "journal addr is required for redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown journal type %q", c.Journal.Type))
	}

	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, "invalid database port")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回 gorm 方言使用的连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
