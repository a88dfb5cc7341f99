package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Search       SearchConfig       `mapstructure:"search"`
	Counter      CounterConfig      `mapstructure:"counter"`
	Fanout       FanoutConfig       `mapstructure:"fanout"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Notification NotificationConfig `mapstructure:"notification"`
	Post         PostConfig         `mapstructure:"post"`
	Command      CommandConfig      `mapstructure:"command"`
	Moderation   ModerationConfig   `mapstructure:"moderation"`
	Log          LogConfig          `mapstructure:"log"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SearchConfig struct {
	MeiliHost string `mapstructure:"meili_host"`
	MeiliKey  string `mapstructure:"meili_key"`
}

// CounterConfig 计数器分片与对账
type CounterConfig struct {
	Shards        int     `mapstructure:"shards"`
	BatchSize     int     `mapstructure:"batch_size"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	FoldSchedule  string  `mapstructure:"fold_schedule"`
	ReconcileCron string  `mapstructure:"reconcile_schedule"`
}

// FanoutConfig 扇出派发
type FanoutConfig struct {
	Workers      int           `mapstructure:"workers"`
	ClaimLimit   int           `mapstructure:"claim_limit"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type FeedConfig struct {
	PushThreshold int64         `mapstructure:"push_threshold"`
	BatchSize     int           `mapstructure:"batch_size"`
	BackfillLimit int           `mapstructure:"backfill_limit"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
	DefaultLimit  int           `mapstructure:"default_limit"`
	MaxLimit      int           `mapstructure:"max_limit"`
}

type NotificationConfig struct {
	BumpOnRepeat     bool `mapstructure:"bump_on_repeat"`
	PublishQueueSize int  `mapstructure:"publish_queue_size"`
	PublishWorkers   int  `mapstructure:"publish_workers"`
}

type PostConfig struct {
	MaxDepth      int `mapstructure:"max_depth"`
	MaxContentLen int `mapstructure:"max_content_len"`
}

// CommandConfig 命令执行（事务超时与瞬时错误重试）
type CommandConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     uint          `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// ModerationConfig 可执行 SetAccountFlags 的账户地址
type ModerationConfig struct {
	Accounts []string `mapstructure:"accounts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load 加载配置：.env -> config.yaml -> SOCIALSYNC_* 环境变量
func Load() (*Config, error) {
	// .env 可选，生产环境直接用环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SOCIALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone. Tests and
// benchmarks use it to avoid touching the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=socialsync port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("search.meili_host", "")

	v.SetDefault("counter.shards", 16)
	v.SetDefault("counter.batch_size", 500)
	v.SetDefault("counter.rate_per_second", 20.0)
	v.SetDefault("counter.fold_schedule", "@every 30s")
	v.SetDefault("counter.reconcile_schedule", "@every 15m")

	v.SetDefault("fanout.workers", 4)
	v.SetDefault("fanout.claim_limit", 128)
	v.SetDefault("fanout.poll_interval", 50*time.Millisecond)
	v.SetDefault("fanout.lease", 30*time.Second)
	v.SetDefault("fanout.max_attempts", 8)
	v.SetDefault("fanout.base_backoff", 500*time.Millisecond)
	v.SetDefault("fanout.max_backoff", 5*time.Minute)

	v.SetDefault("feed.push_threshold", 10000)
	v.SetDefault("feed.batch_size", 500)
	v.SetDefault("feed.backfill_limit", 20)
	v.SetDefault("feed.cache_ttl", 10*time.Minute)
	v.SetDefault("feed.cache_size", 200)
	v.SetDefault("feed.default_limit", 20)
	v.SetDefault("feed.max_limit", 100)

	v.SetDefault("notification.bump_on_repeat", true)
	v.SetDefault("notification.publish_queue_size", 10000)
	v.SetDefault("notification.publish_workers", 2)

	v.SetDefault("post.max_depth", 64)
	v.SetDefault("post.max_content_len", 10000)

	v.SetDefault("command.timeout", 10*time.Second)
	v.SetDefault("command.max_retries", 5)
	v.SetDefault("command.initial_backoff", 20*time.Millisecond)

	v.SetDefault("moderation.accounts", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "socialsync")
	v.SetDefault("tracing.insecure", true)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Counter.Shards < 1 {
		return fmt.Errorf("counter.shards must be >= 1, got %d", c.Counter.Shards)
	}
	if c.Fanout.MaxAttempts < 1 {
		return fmt.Errorf("fanout.max_attempts must be >= 1, got %d", c.Fanout.MaxAttempts)
	}
	if c.Post.MaxDepth < 1 {
		return fmt.Errorf("post.max_depth must be >= 1, got %d", c.Post.MaxDepth)
	}
	return nil
}
