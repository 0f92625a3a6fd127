// Package config loads process configuration with viper: defaults, then an
// optional YAML file, then OLYMPUS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	strutil "olympus/pkg/platform/strings"
)

const devSigningKey = "dev-signing-key-change-me-in-production-0123456789"

type Config struct {
	App       App
	Server    Server
	Log       Log
	Postgres  Postgres
	Redis     RedisConfig
	Kafka     Kafka
	Auth      Auth
	EventBus  EventBus
	Telemetry Telemetry
}

type App struct {
	Name        string
	Environment string // development, staging, production
	Version     string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AdminToken      string
}

type Log struct {
	Level       string
	Development bool
	OutputPath  string
}

// Postgres is disabled when neither URL nor Host is set.
type Postgres struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PoolMaxConns    int32
	AutoMigrate     bool
}

func (p Postgres) Enabled() bool {
	return p.URL != "" || p.Host != ""
}

// DSN returns a URL-form connection string accepted by both lib/pq and pgx.
func (p Postgres) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

// RedisConfig is disabled when URL is empty.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (r RedisConfig) Enabled() bool { return r.URL != "" }

type Kafka struct {
	Brokers           []string
	Topic             string
	DeadLetterTopic   string
	ConsumerGroup     string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

type Argon2 struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Auth struct {
	SigningKey        string
	RefreshSigningKey string // derived from SigningKey when empty
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	LockoutThreshold  int
	LockDuration      time.Duration
	RefreshLockTTL    time.Duration
	RevocationCheck   bool
	RateLimit         int // requests per client IP per RateLimitWindow; 0 disables
	RateLimitWindow   time.Duration
	Argon2            Argon2
}

type EventBus struct {
	Transport          string // memory or kafka
	DedupRetention     time.Duration
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	Lanes              int
	BatchSize          int
	PollInterval       time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	BreakerThreshold   int
	BreakerCooldown    time.Duration
}

type Telemetry struct {
	Enabled       bool
	CollectorAddr string
	SampleRatio   float64
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OLYMPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := bindConfig(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "olympus")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "olympus")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "olympus")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", "30m")
	v.SetDefault("postgres.pool_max_conns", 10)
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "olympus.events")
	v.SetDefault("kafka.dead_letter_topic", "events.dead_letter")
	v.SetDefault("kafka.consumer_group", "olympus")
	v.SetDefault("kafka.client_id", "olympus")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("auth.signing_key", devSigningKey)
	v.SetDefault("auth.refresh_signing_key", "")
	v.SetDefault("auth.issuer", "olympus")
	v.SetDefault("auth.access_ttl", "15m")
	v.SetDefault("auth.refresh_ttl", "168h")
	v.SetDefault("auth.lockout_threshold", 5)
	v.SetDefault("auth.lock_duration", "30m")
	v.SetDefault("auth.refresh_lock_ttl", "5s")
	v.SetDefault("auth.revocation_check", false)
	v.SetDefault("auth.rate_limit", 20)
	v.SetDefault("auth.rate_limit_window", "1m")
	v.SetDefault("auth.argon2.memory", 64*1024)
	v.SetDefault("auth.argon2.iterations", 3)
	v.SetDefault("auth.argon2.parallelism", 2)
	v.SetDefault("auth.argon2.salt_length", 16)
	v.SetDefault("auth.argon2.key_length", 32)

	v.SetDefault("eventbus.transport", "memory")
	v.SetDefault("eventbus.dedup_retention", "24h")
	v.SetDefault("eventbus.max_attempts", 4)
	v.SetDefault("eventbus.initial_backoff", "100ms")
	v.SetDefault("eventbus.max_backoff", "5s")
	v.SetDefault("eventbus.lanes", 8)
	v.SetDefault("eventbus.batch_size", 100)
	v.SetDefault("eventbus.poll_interval", "50ms")
	v.SetDefault("eventbus.outbox_poll_interval", "1s")
	v.SetDefault("eventbus.outbox_batch_size", 100)
	v.SetDefault("eventbus.breaker_threshold", 5)
	v.SetDefault("eventbus.breaker_cooldown", "5s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.collector_addr", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

func bindConfig(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.App.Name = v.GetString("app.name")
	cfg.App.Environment = v.GetString("app.environment")
	cfg.App.Version = v.GetString("app.version")

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	cfg.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	cfg.Server.AdminToken = v.GetString("server.admin_token")

	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Development = v.GetBool("log.development")
	cfg.Log.OutputPath = v.GetString("log.output_path")

	cfg.Postgres.URL = v.GetString("postgres.url")
	cfg.Postgres.Host = v.GetString("postgres.host")
	cfg.Postgres.Port = v.GetInt("postgres.port")
	cfg.Postgres.User = v.GetString("postgres.user")
	cfg.Postgres.Password = v.GetString("postgres.password")
	cfg.Postgres.DBName = v.GetString("postgres.dbname")
	cfg.Postgres.SSLMode = v.GetString("postgres.sslmode")
	cfg.Postgres.MaxOpenConns = v.GetInt("postgres.max_open_conns")
	cfg.Postgres.MaxIdleConns = v.GetInt("postgres.max_idle_conns")
	cfg.Postgres.ConnMaxLifetime = v.GetDuration("postgres.conn_max_lifetime")
	cfg.Postgres.PoolMaxConns = v.GetInt32("postgres.pool_max_conns")
	cfg.Postgres.AutoMigrate = v.GetBool("postgres.auto_migrate")

	cfg.Redis.URL = v.GetString("redis.url")
	cfg.Redis.PoolSize = v.GetInt("redis.pool_size")
	cfg.Redis.MinIdleConns = v.GetInt("redis.min_idle_conns")
	cfg.Redis.DialTimeout = v.GetDuration("redis.dial_timeout")
	cfg.Redis.ReadTimeout = v.GetDuration("redis.read_timeout")
	cfg.Redis.WriteTimeout = v.GetDuration("redis.write_timeout")

	cfg.Kafka.Brokers = strutil.SplitList(v.GetString("kafka.brokers"))
	cfg.Kafka.Topic = v.GetString("kafka.topic")
	cfg.Kafka.DeadLetterTopic = v.GetString("kafka.dead_letter_topic")
	cfg.Kafka.ConsumerGroup = v.GetString("kafka.consumer_group")
	cfg.Kafka.ClientID = v.GetString("kafka.client_id")
	cfg.Kafka.Partitions = v.GetInt32("kafka.partitions")
	cfg.Kafka.ReplicationFactor = int16(v.GetInt("kafka.replication_factor"))

	cfg.Auth.SigningKey = v.GetString("auth.signing_key")
	cfg.Auth.RefreshSigningKey = v.GetString("auth.refresh_signing_key")
	cfg.Auth.Issuer = v.GetString("auth.issuer")
	cfg.Auth.AccessTTL = v.GetDuration("auth.access_ttl")
	cfg.Auth.RefreshTTL = v.GetDuration("auth.refresh_ttl")
	cfg.Auth.LockoutThreshold = v.GetInt("auth.lockout_threshold")
	cfg.Auth.LockDuration = v.GetDuration("auth.lock_duration")
	cfg.Auth.RefreshLockTTL = v.GetDuration("auth.refresh_lock_ttl")
	cfg.Auth.RevocationCheck = v.GetBool("auth.revocation_check")
	cfg.Auth.RateLimit = v.GetInt("auth.rate_limit")
	cfg.Auth.RateLimitWindow = v.GetDuration("auth.rate_limit_window")
	cfg.Auth.Argon2 = Argon2{
		Memory:      v.GetUint32("auth.argon2.memory"),
		Iterations:  v.GetUint32("auth.argon2.iterations"),
		Parallelism: uint8(v.GetUint("auth.argon2.parallelism")),
		SaltLength:  v.GetUint32("auth.argon2.salt_length"),
		KeyLength:   v.GetUint32("auth.argon2.key_length"),
	}

	cfg.EventBus.Transport = v.GetString("eventbus.transport")
	cfg.EventBus.DedupRetention = v.GetDuration("eventbus.dedup_retention")
	cfg.EventBus.MaxAttempts = v.GetInt("eventbus.max_attempts")
	cfg.EventBus.InitialBackoff = v.GetDuration("eventbus.initial_backoff")
	cfg.EventBus.MaxBackoff = v.GetDuration("eventbus.max_backoff")
	cfg.EventBus.Lanes = v.GetInt("eventbus.lanes")
	cfg.EventBus.BatchSize = v.GetInt("eventbus.batch_size")
	cfg.EventBus.PollInterval = v.GetDuration("eventbus.poll_interval")
	cfg.EventBus.OutboxPollInterval = v.GetDuration("eventbus.outbox_poll_interval")
	cfg.EventBus.OutboxBatchSize = v.GetInt("eventbus.outbox_batch_size")
	cfg.EventBus.BreakerThreshold = v.GetInt("eventbus.breaker_threshold")
	cfg.EventBus.BreakerCooldown = v.GetDuration("eventbus.breaker_cooldown")

	cfg.Telemetry.Enabled = v.GetBool("telemetry.enabled")
	cfg.Telemetry.CollectorAddr = v.GetString("telemetry.collector_addr")
	cfg.Telemetry.SampleRatio = v.GetFloat64("telemetry.sample_ratio")

	return cfg
}

// Validate rejects configurations the process cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if len(c.Auth.SigningKey) < 32 {
		errs = append(errs, errors.New("auth.signing_key must be at least 32 bytes"))
	}
	if c.IsProduction() && c.Auth.SigningKey == devSigningKey {
		errs = append(errs, errors.New("auth.signing_key must be changed in production"))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, errors.New("auth.access_ttl must be positive"))
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		errs = append(errs, errors.New("auth.refresh_ttl must exceed auth.access_ttl"))
	}
	if c.Auth.LockoutThreshold < 1 {
		errs = append(errs, errors.New("auth.lockout_threshold must be at least 1"))
	}
	if c.Auth.RateLimit > 0 && c.Auth.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("auth.rate_limit_window must be positive when auth.rate_limit is set"))
	}
	if c.Auth.LockDuration <= 0 {
		errs = append(errs, errors.New("auth.lock_duration must be positive"))
	}
	if c.Auth.Argon2.Memory < 8*1024 || c.Auth.Argon2.Iterations < 1 || c.Auth.Argon2.Parallelism < 1 {
		errs = append(errs, errors.New("auth.argon2 parameters are below the minimum"))
	}
	if c.EventBus.MaxAttempts < 1 {
		errs = append(errs, errors.New("eventbus.max_attempts must be at least 1"))
	}
	if c.EventBus.Lanes < 1 || c.EventBus.BatchSize < 1 {
		errs = append(errs, errors.New("eventbus.lanes and eventbus.batch_size must be positive"))
	}
	switch c.EventBus.Transport {
	case "memory":
	case "kafka":
		if !c.Kafka.Enabled() {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown eventbus.transport %q", c.EventBus.Transport))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
