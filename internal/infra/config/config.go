package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SOCIAL"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Bus       BusSettings       `mapstructure:"bus"`
	NATS      NATSSettings      `mapstructure:"nats"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Gateway   GatewaySettings   `mapstructure:"gateway"`
	Storage   StorageSettings   `mapstructure:"storage"`
	Media     MediaSettings     `mapstructure:"media"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// TrustedProxies lists the peers allowed to set X-Forwarded-For. Empty
	// means the TCP peer address is the client address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	SlowQuery         time.Duration `mapstructure:"slow_query"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// URL renders the settings as a postgres:// connection string.
func (p PostgresSettings) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// BusSettings selects the broker transport and the exchange every service shares.
type BusSettings struct {
	Driver               string        `mapstructure:"driver"`
	Exchange             string        `mapstructure:"exchange"`
	Prefetch             int           `mapstructure:"prefetch"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	RequeueDelay         time.Duration `mapstructure:"requeue_delay"`
}

type NATSSettings struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// KafkaSettings configures the sarama producer and consumer groups
type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers"`
	Version string   `mapstructure:"version"`
}

type JWTSettings struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// RateLimitSettings configures the fixed windows enforced at the gateway and the identity service
type RateLimitSettings struct {
	KeyPrefix         string        `mapstructure:"key_prefix"`
	GlobalWindow      time.Duration `mapstructure:"global_window"`
	GlobalMax         int           `mapstructure:"global_max"`
	SensitiveWindow   time.Duration `mapstructure:"sensitive_window"`
	SensitiveMax      int           `mapstructure:"sensitive_max"`
	SensitivePaths    []string      `mapstructure:"sensitive_paths"`
	IdentityWindow    time.Duration `mapstructure:"identity_window"`
	IdentityMax       int           `mapstructure:"identity_max"`
	IdentityRegWindow time.Duration `mapstructure:"identity_register_window"`
	IdentityRegMax    int           `mapstructure:"identity_register_max"`
}

type CacheSettings struct {
	PostTTL  time.Duration `mapstructure:"post_ttl"`
	PostsTTL time.Duration `mapstructure:"posts_ttl"`
}

// GatewaySettings holds the static route table targets.
type GatewaySettings struct {
	IdentityURL     string        `mapstructure:"identity_url"`
	PostURL         string        `mapstructure:"post_url"`
	MediaURL        string        `mapstructure:"media_url"`
	SearchURL       string        `mapstructure:"search_url"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type StorageSettings struct {
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type MediaSettings struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

type TelemetrySettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// Load reads configuration for the named service. The service name seeds
// app.name, the listen port and the telemetry service name; every value can
// still be overridden through SOCIAL_* environment variables.
func Load(service string) (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v, service)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.trusted_proxies",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.slow_query",
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pool_size",
		"bus.driver",
		"bus.exchange",
		"bus.prefetch",
		"bus.dial_timeout",
		"bus.max_reconnect_attempts",
		"bus.requeue_delay",
		"nats.url",
		"nats.name",
		"nats.reconnect_wait",
		"nats.max_reconnects",
		"kafka.brokers",
		"kafka.version",
		"jwt.secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"rate_limit.key_prefix",
		"rate_limit.global_window",
		"rate_limit.global_max",
		"rate_limit.sensitive_window",
		"rate_limit.sensitive_max",
		"rate_limit.sensitive_paths",
		"rate_limit.identity_window",
		"rate_limit.identity_max",
		"rate_limit.identity_register_window",
		"rate_limit.identity_register_max",
		"cache.post_ttl",
		"cache.posts_ttl",
		"gateway.identity_url",
		"gateway.post_url",
		"gateway.media_url",
		"gateway.search_url",
		"gateway.upstream_timeout",
		"gateway.allowed_origins",
		"storage.endpoint",
		"storage.region",
		"storage.bucket",
		"storage.access_key",
		"storage.secret_key",
		"storage.use_ssl",
		"storage.public_base_url",
		"media.max_upload_bytes",
		"telemetry.enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

var defaultPorts = map[string]int{
	"api-gateway":      3000,
	"identity-service": 3001,
	"post-service":     3002,
	"media-service":    3003,
	"search-service":   3004,
}

func setDefaults(v *viper.Viper, service string) {
	port, ok := defaultPorts[service]
	if !ok {
		port = 8080
	}

	v.SetDefault("app.name", service)
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", port)
	v.SetDefault("app.trusted_proxies", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "social")
	v.SetDefault("postgres.password", "social_password")
	v.SetDefault("postgres.database", strings.ReplaceAll(service, "-", "_"))
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.slow_query", "250ms")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("bus.driver", "nats")
	v.SetDefault("bus.exchange", "facebook_events")
	v.SetDefault("bus.prefetch", 32)
	v.SetDefault("bus.dial_timeout", "5s")
	v.SetDefault("bus.max_reconnect_attempts", 5)
	v.SetDefault("bus.requeue_delay", "1s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", service)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.max_reconnects", -1)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.version", "3.5.0")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "chatternet")
	v.SetDefault("jwt.access_token_ttl", "60m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("rate_limit.key_prefix", "ratelimit")
	v.SetDefault("rate_limit.global_window", "15m")
	v.SetDefault("rate_limit.global_max", 100)
	v.SetDefault("rate_limit.sensitive_window", "15m")
	v.SetDefault("rate_limit.sensitive_max", 50)
	v.SetDefault("rate_limit.sensitive_paths", []string{"/v1/auth/register"})
	v.SetDefault("rate_limit.identity_window", "1s")
	v.SetDefault("rate_limit.identity_max", 10)
	v.SetDefault("rate_limit.identity_register_window", "15m")
	v.SetDefault("rate_limit.identity_register_max", 50)

	v.SetDefault("cache.post_ttl", "1h")
	v.SetDefault("cache.posts_ttl", "5m")

	v.SetDefault("gateway.identity_url", "http://localhost:3001")
	v.SetDefault("gateway.post_url", "http://localhost:3002")
	v.SetDefault("gateway.media_url", "http://localhost:3003")
	v.SetDefault("gateway.search_url", "http://localhost:3004")
	v.SetDefault("gateway.upstream_timeout", "30s")
	v.SetDefault("gateway.allowed_origins", []string{"*"})

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "media")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.public_base_url", "http://localhost:9000/media")

	v.SetDefault("media.max_upload_bytes", 5*1024*1024)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
