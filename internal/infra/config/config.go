package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Auth      AuthSettings      `mapstructure:"auth"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Relay     RelaySettings     `mapstructure:"relay"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminOrigins restricts the admin console routes. Empty falls back to AllowedOrigins.
	AdminOrigins []string `mapstructure:"admin_origins"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
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
}

// RedisSettings configures Redis connection and the device key namespace.
type RedisSettings struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	DB           int    `mapstructure:"db"`
	Password     string `mapstructure:"password"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
	DevicePrefix string `mapstructure:"device_prefix"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// AuthSettings holds the well-known verification and admin gate values.
type AuthSettings struct {
	TestCode            string        `mapstructure:"test_code"`
	CodeLength          int           `mapstructure:"code_length"`
	CodeTTL             time.Duration `mapstructure:"code_ttl"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	MinPasswordLength   int           `mapstructure:"min_password_length"`
	MinPasswordScore    int           `mapstructure:"min_password_score"`
	PhonePattern        string        `mapstructure:"phone_pattern"`
	AdminAccountID      string        `mapstructure:"admin_account_id"`
	DeviceIdleTimeout   time.Duration `mapstructure:"device_idle_timeout"`
	DevicePruneInterval time.Duration `mapstructure:"device_prune_interval"`
}

type JWTSettings struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	BearerTTL time.Duration `mapstructure:"bearer_ttl"`
}

// RelaySettings points the admin relay at the store API.
type RelaySettings struct {
	StoreURL string        `mapstructure:"store_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Enabled      bool    `mapstructure:"enabled"`
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	SignupMaxAttempts        int           `mapstructure:"signup_max_attempts"`
	VerifyMaxAttempts        int           `mapstructure:"verify_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("STOREFRONT")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"app.admin_origins",
		"grpc.host",
		"grpc.port",
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
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.device_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"auth.test_code",
		"auth.code_length",
		"auth.code_ttl",
		"auth.max_attempts",
		"auth.min_password_length",
		"auth.min_password_score",
		"auth.phone_pattern",
		"auth.admin_account_id",
		"auth.device_idle_timeout",
		"auth.device_prune_interval",
		"jwt.secret",
		"jwt.issuer",
		"jwt.bearer_ttl",
		"relay.store_url",
		"relay.timeout",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"telemetry.enabled",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.signup_max_attempts",
		"rate_limit.verify_max_attempts",
		"rate_limit.password_reset_max_attempts",
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the auth flows cannot run with.
func (c *AppConfig) Validate() error {
	if c.Auth.CodeLength <= 0 {
		return fmt.Errorf("auth.code_length must be positive")
	}
	if len(c.Auth.TestCode) != c.Auth.CodeLength {
		return fmt.Errorf("auth.test_code must be %d digits", c.Auth.CodeLength)
	}
	if c.Auth.CodeTTL <= 0 {
		return fmt.Errorf("auth.code_ttl must be positive")
	}
	if c.Auth.MaxAttempts <= 0 {
		return fmt.Errorf("auth.max_attempts must be positive")
	}
	if c.App.Env == "production" && c.JWT.Secret == defaultJWTSecret {
		return fmt.Errorf("jwt.secret must be set in production")
	}
	return nil
}

const defaultJWTSecret = "dev-only-relay-secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "wirenew-identity")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "storefront")
	v.SetDefault("postgres.password", "storefront_password")
	v.SetDefault("postgres.database", "storefront")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.device_prefix", "storefront:device")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "storefront")
	v.SetDefault("kafka.async", true)

	// Well-known verification values; the test code stands in for real delivery.
	v.SetDefault("auth.test_code", "123456")
	v.SetDefault("auth.code_length", 6)
	v.SetDefault("auth.code_ttl", "10m")
	v.SetDefault("auth.max_attempts", 4)
	v.SetDefault("auth.min_password_length", 6)
	v.SetDefault("auth.min_password_score", 0)
	v.SetDefault("auth.phone_pattern", `^[6-9][0-9]{9}$`)
	v.SetDefault("auth.admin_account_id", "")
	v.SetDefault("auth.device_idle_timeout", "24h")
	v.SetDefault("auth.device_prune_interval", "10m")

	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.issuer", "wirenew-identity")
	v.SetDefault("jwt.bearer_ttl", "1h")

	v.SetDefault("relay.store_url", "http://localhost:9000")
	v.SetDefault("relay.timeout", "10s")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "wirenew-identity")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.enabled", false)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.signup_max_attempts", 5)
	v.SetDefault("rate_limit.verify_max_attempts", 20)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 1)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "STOREFRONT_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
