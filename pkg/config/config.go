// Package config 提供 TOML 配置加载与环境变量覆盖，密钥类配置只通过 APP_ 前缀环境变量注入
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// gRPC 服务配置
	GRPC GRPCConfig `mapstructure:"grpc"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 入口限流配置
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// 交易所配置
	Exchange ExchangeConfig `mapstructure:"exchange"`
	// 提案引擎配置
	Proposal ProposalConfig `mapstructure:"proposal"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 最大并发流数
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql, postgres, memory
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
	// 启动时自动建表
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 关闭时使用进程内锁，且不缓存交易规则
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	// 消费者超时（秒）
	SessionTimeout int `mapstructure:"session_timeout"`
	// 生产者最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
	// 信号主题
	SignalTopic string `mapstructure:"signal_topic"`
	// 脉冲主题
	PulseTopic string `mapstructure:"pulse_topic"`
	// 事件主题
	EventTopic string `mapstructure:"event_topic"`
	// 死信主题
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig 入口限流配置
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
}

// ExchangeConfig 交易所连接配置
type ExchangeConfig struct {
	// API Key，建议通过 APP_EXCHANGE_API_KEY 注入
	APIKey string `mapstructure:"api_key"`
	// API Secret，建议通过 APP_EXCHANGE_API_SECRET 注入
	APISecret string `mapstructure:"api_secret"`
	// 是否使用测试网
	Testnet bool `mapstructure:"testnet"`
	// 每秒请求数
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// 令牌桶容量
	Burst int `mapstructure:"burst"`
	// 单次调用超时
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// 熔断：连续失败次数
	BreakerFailures uint32 `mapstructure:"breaker_failures"`
	// 熔断：打开后的冷却时间
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// ProposalConfig 提案引擎配置
type ProposalConfig struct {
	// 计价资产
	QuoteAsset string `mapstructure:"quote_asset"`
	// 单笔风险占余额比例
	RiskPercentage float64 `mapstructure:"risk_percentage"`
	// 信号未给出杠杆时使用
	DefaultLeverage int `mapstructure:"default_leverage"`
	// 交易所允许的最大杠杆
	MaxLeverage int `mapstructure:"max_leverage"`
	// 入场价格策略：MARKET, LIMIT, BEST_LIMIT
	PricePolicy string `mapstructure:"price_policy"`
	// 是否拒绝已过期的信号
	EnforceExpiry bool `mapstructure:"enforce_expiry"`
	// 止盈阶梯递减系数
	TakeProfitCascade float64 `mapstructure:"take_profit_cascade"`
	// 连通性检查次数
	PingAttempts int `mapstructure:"ping_attempts"`
	// 连通性检查间隔
	PingDelay time.Duration `mapstructure:"ping_delay"`
	// 单次执行的最长时间
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	// 交易对租约有效期
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// 交易规则缓存有效期
	FilterCacheTTL time.Duration `mapstructure:"filter_cache_ttl"`
	// 回滚与状态落库的独立截止时间
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
	// 雪花算法节点号，多实例部署时需唯一
	NodeID int64 `mapstructure:"node_id"`
	// gRPC 健康探测间隔
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖，文件缺失视为错误
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadWithDefaults 从 TOML 文件加载配置，文件缺失时全部使用默认值
func LoadWithDefaults(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, strict bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil && strict {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 环境变量覆盖（使用 _ 替代 .）
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// AutomaticEnv 只对已知 key 生效，密钥没有默认值需要显式绑定
	_ = v.BindEnv("exchange.api_key")
	_ = v.BindEnv("exchange.api_secret")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Proposal.RiskPercentage <= 0 || c.Proposal.RiskPercentage > 1 {
		return fmt.Errorf("proposal.risk_percentage must be in (0, 1]: %v", c.Proposal.RiskPercentage)
	}
	if c.Proposal.MaxLeverage < 1 {
		return fmt.Errorf("proposal.max_leverage must be >= 1: %d", c.Proposal.MaxLeverage)
	}
	if c.Proposal.DefaultLeverage < 1 || c.Proposal.DefaultLeverage > c.Proposal.MaxLeverage {
		return fmt.Errorf("proposal.default_leverage must be in [1, %d]: %d", c.Proposal.MaxLeverage, c.Proposal.DefaultLeverage)
	}
	switch strings.ToUpper(c.Proposal.PricePolicy) {
	case "MARKET", "LIMIT", "BEST_LIMIT":
	default:
		return fmt.Errorf("unsupported proposal.price_policy: %s", c.Proposal.PricePolicy)
	}
	if c.Proposal.TakeProfitCascade <= 0 || c.Proposal.TakeProfitCascade >= 1 {
		return fmt.Errorf("proposal.take_profit_cascade must be in (0, 1): %v", c.Proposal.TakeProfitCascade)
	}
	if c.Proposal.NodeID < 0 || c.Proposal.NodeID > 1023 {
		return fmt.Errorf("proposal.node_id must be in [0, 1023]: %d", c.Proposal.NodeID)
	}
	if c.Proposal.PingAttempts < 1 {
		return fmt.Errorf("proposal.ping_attempts must be >= 1: %d", c.Proposal.PingAttempts)
	}
	if c.Proposal.HealthInterval <= 0 {
		return fmt.Errorf("proposal.health_interval must be positive: %v", c.Proposal.HealthInterval)
	}
	// 租约必须覆盖整个执行（含回滚），否则过期后其它实例可并发操作同一交易对
	if hold := c.Proposal.ExecutionTimeout + c.Proposal.CleanupTimeout; c.Proposal.LockTTL < hold {
		return fmt.Errorf("proposal.lock_ttl %v must cover execution_timeout + cleanup_timeout (%v)", c.Proposal.LockTTL, hold)
	}
	// 写超时必须覆盖同步请求的最坏耗时，否则客户端拿不到已下单提案的 ID
	if budget, write := c.RequestBudget(), time.Duration(c.HTTP.WriteTimeout)*time.Second; write < budget {
		return fmt.Errorf("http.write_timeout %v is shorter than the worst-case request time %v", write, budget)
	}
	return nil
}

// RequestBudget 一次同步提交的最坏耗时：连通性检查（含重试间隔）、快照读取、执行与回滚
func (c *Config) RequestBudget() time.Duration {
	attempts := time.Duration(c.Proposal.PingAttempts)
	ping := attempts*c.Exchange.CallTimeout + (attempts-1)*c.Proposal.PingDelay
	return ping + c.Exchange.CallTimeout + c.Proposal.ExecutionTimeout + c.Proposal.CleanupTimeout
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "proposal")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 120)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.max_concurrent_streams", 1000)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.group_id", "proposal-engine")
	v.SetDefault("kafka.session_timeout", 10)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.signal_topic", "proposal.signals")
	v.SetDefault("kafka.pulse_topic", "proposal.pulses")
	v.SetDefault("kafka.event_topic", "proposal.events")
	v.SetDefault("kafka.dead_letter_topic", "proposal.dlq")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/proposal.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.qps", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.requests_per_second", 10)
	v.SetDefault("exchange.burst", 20)
	v.SetDefault("exchange.call_timeout", 10*time.Second)
	v.SetDefault("exchange.breaker_failures", 5)
	v.SetDefault("exchange.breaker_timeout", 30*time.Second)

	v.SetDefault("proposal.quote_asset", "USDT")
	v.SetDefault("proposal.risk_percentage", 0.02)
	v.SetDefault("proposal.default_leverage", 10)
	v.SetDefault("proposal.max_leverage", 125)
	v.SetDefault("proposal.price_policy", "LIMIT")
	v.SetDefault("proposal.enforce_expiry", true)
	v.SetDefault("proposal.take_profit_cascade", 0.3)
	v.SetDefault("proposal.ping_attempts", 5)
	v.SetDefault("proposal.ping_delay", time.Second)
	v.SetDefault("proposal.execution_timeout", 30*time.Second)
	v.SetDefault("proposal.cleanup_timeout", 15*time.Second)
	v.SetDefault("proposal.lock_ttl", 2*time.Minute)
	v.SetDefault("proposal.filter_cache_ttl", 10*time.Minute)
	v.SetDefault("proposal.node_id", 1)
	v.SetDefault("proposal.health_interval", 30*time.Second)
}
