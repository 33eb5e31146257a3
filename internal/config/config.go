// Package config handles loading and validating configuration from a config
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/DevCabin/ClawLess/pkg/log"
	"github.com/DevCabin/ClawLess/pkg/models"
)

// Ledger store names.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
)

// Config holds all configuration for ClawLess.
type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Routing  RoutingConfig
	Local    LocalConfig
	Remote   RemoteConfig
	Ledger   LedgerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Spend    SpendConfig
}

type ServerConfig struct {
	Port           int
	Mode           string // gin mode: debug | release | test
	AdminAPIKey    string // Required for /api/v1 endpoints; empty = no auth
	RouteAPIKey    string // Required for /v1/route; empty = no auth
	AllowedOrigins []string
	RateLimitRPM   int // Per client per minute; 0 disables
}

type LoggerConfig struct {
	Level        string
	Mode         string
	Encoding     string
	ColorEnabled bool
}

type RoutingConfig struct {
	Mode            models.RoutingMode
	FallbackEnabled bool
}

type LocalConfig struct {
	Endpoint    string
	Model       string
	TimeoutMS   int
	Temperature float64
	MaxTokens   int
	ProbeTTL    time.Duration
}

type RemoteConfig struct {
	Provider           models.LLMProvider
	Model              string
	APIKey             string
	BaseURL            string
	MaxTokens          int64
	Temperature        float64
	MaxRetries         int
	ProbeTTL           time.Duration
	PriceInPerMillion  float64
	PriceOutPerMillion float64
}

type LedgerConfig struct {
	Store      string
	SQLitePath string
}

type PostgresConfig struct {
	Host     string
	Port     int
	DB       string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SpendConfig struct {
	DailyLimitUSD float64
	WarnRatio     float64
}

// Load reads config.yaml (searched in ./config, . and /etc/clawless/, or the
// explicit path when file is non-empty) and overlays environment variables.
// Nested keys map to env names by replacing dots with underscores, so
// postgres.host is POSTGRES_HOST.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/clawless/")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.Mode = v.GetString("server.mode")
	cfg.Server.AdminAPIKey = v.GetString("server.admin_api_key")
	cfg.Server.RouteAPIKey = v.GetString("server.route_api_key")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitRPM = v.GetInt("server.rate_limit_rpm")

	cfg.Logger.Level = v.GetString("logger.level")
	cfg.Logger.Mode = v.GetString("logger.mode")
	cfg.Logger.Encoding = v.GetString("logger.encoding")
	cfg.Logger.ColorEnabled = v.GetBool("logger.color_enabled")

	mode, err := models.ParseRoutingMode(v.GetString("routing.mode"))
	if err != nil {
		return nil, fmt.Errorf("invalid routing.mode: %w", err)
	}
	cfg.Routing.Mode = mode
	cfg.Routing.FallbackEnabled = v.GetBool("routing.fallback_enabled")

	cfg.Local.Endpoint = v.GetString("local.endpoint")
	cfg.Local.Model = v.GetString("local.model")
	cfg.Local.TimeoutMS = v.GetInt("local.timeout_ms")
	cfg.Local.Temperature = v.GetFloat64("local.temperature")
	cfg.Local.MaxTokens = v.GetInt("local.max_tokens")
	cfg.Local.ProbeTTL = v.GetDuration("local.probe_ttl")

	cfg.Remote.Provider = models.LLMProvider(strings.ToLower(v.GetString("remote.provider")))
	cfg.Remote.Model = v.GetString("remote.model")
	cfg.Remote.APIKey = v.GetString("remote.api_key")
	cfg.Remote.BaseURL = v.GetString("remote.base_url")
	cfg.Remote.MaxTokens = v.GetInt64("remote.max_tokens")
	cfg.Remote.Temperature = v.GetFloat64("remote.temperature")
	cfg.Remote.MaxRetries = v.GetInt("remote.max_retries")
	cfg.Remote.ProbeTTL = v.GetDuration("remote.probe_ttl")
	cfg.Remote.PriceInPerMillion = v.GetFloat64("remote.price_in_per_million")
	cfg.Remote.PriceOutPerMillion = v.GetFloat64("remote.price_out_per_million")
	if cfg.Remote.APIKey == "" {
		switch cfg.Remote.Provider {
		case models.ProviderAnthropic:
			cfg.Remote.APIKey = v.GetString("anthropic_api_key")
		case models.ProviderOpenAI:
			cfg.Remote.APIKey = v.GetString("openai_api_key")
		}
	}

	cfg.Ledger.Store = strings.ToLower(v.GetString("ledger.store"))
	cfg.Ledger.SQLitePath = v.GetString("ledger.sqlite_path")

	cfg.Postgres.Host = v.GetString("postgres.host")
	cfg.Postgres.Port = v.GetInt("postgres.port")
	cfg.Postgres.DB = v.GetString("postgres.db")
	cfg.Postgres.User = v.GetString("postgres.user")
	cfg.Postgres.Password = v.GetString("postgres.password")
	cfg.Postgres.SSLMode = v.GetString("postgres.sslmode")

	cfg.Redis.Host = v.GetString("redis.host")
	cfg.Redis.Port = v.GetInt("redis.port")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")

	cfg.Spend.DailyLimitUSD = v.GetFloat64("spend.daily_limit_usd")
	cfg.Spend.WarnRatio = v.GetFloat64("spend.warn_ratio")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.admin_api_key", "")
	v.SetDefault("server.route_api_key", "")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rpm", 600)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.mode", "production")
	v.SetDefault("logger.encoding", "json")
	v.SetDefault("logger.color_enabled", false)

	v.SetDefault("routing.mode", string(models.ModeAuto))
	v.SetDefault("routing.fallback_enabled", true)

	v.SetDefault("local.endpoint", "http://localhost:11434")
	v.SetDefault("local.model", "llama3.2")
	v.SetDefault("local.timeout_ms", 5000)
	v.SetDefault("local.temperature", 0.1)
	v.SetDefault("local.max_tokens", 1024)
	v.SetDefault("local.probe_ttl", "5s")

	v.SetDefault("remote.provider", string(models.ProviderAnthropic))
	v.SetDefault("remote.model", "claude-sonnet-4-20250514")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.max_tokens", 4096)
	v.SetDefault("remote.temperature", 0.7)
	v.SetDefault("remote.max_retries", 2)
	v.SetDefault("remote.probe_ttl", "30s")
	v.SetDefault("remote.price_in_per_million", 0)
	v.SetDefault("remote.price_out_per_million", 0)
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("openai_api_key", "")

	v.SetDefault("ledger.store", StoreMemory)
	v.SetDefault("ledger.sqlite_path", "clawless.db")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.db", "clawless")
	v.SetDefault("postgres.user", "clawless")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("spend.daily_limit_usd", 0)
	v.SetDefault("spend.warn_ratio", 0.8)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Local.TimeoutMS <= 0 {
		return fmt.Errorf("local.timeout_ms must be positive, got %d", c.Local.TimeoutMS)
	}
	if c.Local.Temperature < 0 || c.Remote.Temperature < 0 {
		return fmt.Errorf("temperatures must not be negative")
	}
	switch c.Remote.Provider {
	case models.ProviderAnthropic, models.ProviderOpenAI:
	default:
		return fmt.Errorf("unknown remote.provider %q", c.Remote.Provider)
	}
	if c.Remote.MaxTokens <= 0 {
		return fmt.Errorf("remote.max_tokens must be positive, got %d", c.Remote.MaxTokens)
	}
	if c.Local.ProbeTTL < 0 {
		return fmt.Errorf("local.probe_ttl must not be negative")
	}
	if c.Remote.ProbeTTL < 0 {
		return fmt.Errorf("remote.probe_ttl must not be negative")
	}
	switch c.Ledger.Store {
	case StoreMemory, StorePostgres, StoreRedis:
	case StoreSQLite:
		if c.Ledger.SQLitePath == "" {
			return fmt.Errorf("ledger.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown ledger.store %q", c.Ledger.Store)
	}
	if c.Spend.DailyLimitUSD < 0 {
		return fmt.Errorf("spend.daily_limit_usd must not be negative")
	}
	return nil
}

// RouterConfig returns the slice of configuration the router consumes.
func (c *Config) RouterConfig() models.RouterConfig {
	return models.RouterConfig{
		Mode:            c.Routing.Mode,
		FallbackEnabled: c.Routing.FallbackEnabled,
		LocalTimeout:    c.LocalTimeout(),
	}
}

// LocalTimeout is the per-request deadline for the local backend.
func (c *Config) LocalTimeout() time.Duration {
	return time.Duration(c.Local.TimeoutMS) * time.Millisecond
}

// ZapConfig converts the logger section for log.Init.
func (c *Config) ZapConfig() log.ZapConfig {
	return log.ZapConfig{
		Level:        c.Logger.Level,
		Mode:         c.Logger.Mode,
		Encoding:     c.Logger.Encoding,
		ColorEnabled: c.Logger.ColorEnabled,
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User, c.Postgres.Password, c.Postgres.Host, c.Postgres.Port, c.Postgres.DB, c.Postgres.SSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.Postgres.User, c.Postgres.Host, c.Postgres.Port, c.Postgres.DB, c.Postgres.SSLMode)
}

// RedisAddr returns the Redis address in host:port format.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
