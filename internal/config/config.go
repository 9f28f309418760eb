package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "USERS"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Auth      AuthSettings      `mapstructure:"auth"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

// AppSettings holds process level settings. TrustedProxies lists the CIDRs
// or addresses whose X-Forwarded-For header is believed.
type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Addr           string   `mapstructure:"addr"`
	Version        string   `mapstructure:"version"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// PostgresSettings configures the shared *sql.DB pool. TxTimeout bounds every
// transaction opened by the store.
type PostgresSettings struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// RedisSettings configures the optional permission cache.
type RedisSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	PermissionTTL time.Duration `mapstructure:"permission_ttl"`
}

type AuthSettings struct {
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	BcryptCost   int           `mapstructure:"bcrypt_cost"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

type RateLimitSettings struct {
	Burst     int `mapstructure:"burst"`
	PerSecond int `mapstructure:"per_second"`
}

var keys = []string{
	"app.name",
	"app.env",
	"app.addr",
	"app.version",
	"app.trusted_proxies",
	"postgres.dsn",
	"postgres.max_open_conns",
	"postgres.max_idle_conns",
	"postgres.conn_max_lifetime",
	"postgres.conn_max_idle_time",
	"postgres.tx_timeout",
	"redis.enabled",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.key_prefix",
	"redis.permission_ttl",
	"auth.session_ttl",
	"auth.bcrypt_cost",
	"auth.history_limit",
	"rate_limit.burst",
	"rate_limit.per_second",
}

// Load reads defaults overridden by USERS_* environment variables.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)
	if err := bindEnvs(v, keys); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return fmt.Errorf("config: %s_POSTGRES_DSN is required", envPrefix)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("config: auth.session_ttl must be positive")
	}
	if c.Postgres.TxTimeout <= 0 {
		return fmt.Errorf("config: postgres.tx_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gestion-utilisateurs")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":3000")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.trusted_proxies", []string{})

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", "30m")
	v.SetDefault("postgres.conn_max_idle_time", "5m")
	v.SetDefault("postgres.tx_timeout", "10s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "users:perm")
	v.SetDefault("redis.permission_ttl", "5m")

	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.history_limit", 50)

	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.per_second", 10)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
