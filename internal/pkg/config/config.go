package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构体，由 main 加载后注入各模块
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Checkout  CheckoutConfig  `mapstructure:"checkout"`
	COD       CODConfig       `mapstructure:"cod"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Push      PushConfig      `mapstructure:"push"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Port            string        `mapstructure:"port"`
	SSLMode         string        `mapstructure:"sslmode"`
	TimeZone        string        `mapstructure:"timezone"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 拼接 postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone)
}

// URL golang-migrate 使用的连接串
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 身份令牌由外部认证服务签发，这里只做校验
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CheckoutConfig 下单计价参数
type CheckoutConfig struct {
	Currency              string  `mapstructure:"currency"`
	TaxPercent            float64 `mapstructure:"tax_percent"`
	ShippingFee           float64 `mapstructure:"shipping_fee"`
	FreeShippingThreshold float64 `mapstructure:"free_shipping_threshold"`
	OrderNumberRetries    int     `mapstructure:"order_number_retries"`
}

// CODConfig 货到付款手续费
type CODConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	SurchargePercent float64 `mapstructure:"surcharge_percent"`
	MinSurcharge     float64 `mapstructure:"min_surcharge"`
	MaxSurcharge     float64 `mapstructure:"max_surcharge"`
}

// GatewayConfig 在线支付网关
type GatewayConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	KeyID         string        `mapstructure:"key_id"`
	KeySecret     string        `mapstructure:"key_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Enabled 配置了网关地址才启用在线支付
func (c GatewayConfig) Enabled() bool {
	return c.BaseURL != ""
}

type WorkerConfig struct {
	Num        int           `mapstructure:"num"`
	BufferSize int           `mapstructure:"buffer_size"`
	MaxRetry   int           `mapstructure:"max_retry"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"` // e.g., "cn-hangzhou"
}

// Enabled 推送凭证齐全才启用
func (c PushConfig) Enabled() bool {
	return c.AccessKeyID != "" && c.AccessKeySecret != "" && c.AppKey != 0
}

// RateLimitConfig backend 为 memory 或 redis
type RateLimitConfig struct {
	Backend string        `mapstructure:"backend"`
	Rate    float64       `mapstructure:"rate"`
	Burst   int           `mapstructure:"burst"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// 数据库配置验证
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	if c.Checkout.Currency == "" {
		return errors.New("checkout currency is required")
	}
	if c.Checkout.TaxPercent < 0 || c.Checkout.ShippingFee < 0 || c.Checkout.FreeShippingThreshold < 0 {
		return errors.New("checkout amounts must not be negative")
	}
	if c.Checkout.OrderNumberRetries < 1 {
		return errors.New("checkout order_number_retries must be at least 1")
	}

	if c.COD.MaxSurcharge > 0 && c.COD.MinSurcharge > c.COD.MaxSurcharge {
		return errors.New("cod min_surcharge exceeds max_surcharge")
	}

	if c.Gateway.Enabled() {
		if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" || c.Gateway.WebhookSecret == "" {
			return errors.New("gateway credentials are incomplete")
		}
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis address is required for redis rate limiting")
		}
	default:
		return fmt.Errorf("unknown rate_limit backend %q", c.RateLimit.Backend)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 45*time.Second)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "checkout")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("checkout.currency", "INR")
	v.SetDefault("checkout.tax_percent", 18)
	v.SetDefault("checkout.shipping_fee", 50)
	v.SetDefault("checkout.free_shipping_threshold", 500)
	v.SetDefault("checkout.order_number_retries", 5)
	v.SetDefault("cod.enabled", true)
	v.SetDefault("cod.surcharge_percent", 2)
	v.SetDefault("cod.min_surcharge", 20)
	v.SetDefault("cod.max_surcharge", 100)
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.key_id", "")
	v.SetDefault("gateway.key_secret", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("worker.num", 4)
	v.SetDefault("worker.buffer_size", 256)
	v.SetDefault("worker.max_retry", 3)
	v.SetDefault("worker.retry_delay", time.Second)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "order-events")
	v.SetDefault("push.access_key_id", "")
	v.SetDefault("push.access_key_secret", "")
	v.SetDefault("push.app_key", 0)
	v.SetDefault("push.region_id", "cn-hangzhou")
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.rate", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Minute)
}

// Load 加载配置：configs/config[.<APP_ENV>].yaml + 环境变量覆盖（server.port -> SERVER_PORT）
func Load(searchPaths ...string) (*Config, error) {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"./configs", "."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
