package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"go-audiochat/internal/blob"
)

const (
	ModeDebug   = "debug"
	ModeRelease = "release"

	devSecret = "dev-only-secret"
)

type Config struct {
	Mode     string         `mapstructure:"mode"`
	Addr     string         `mapstructure:"addr"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Blob     blob.Config    `mapstructure:"blob"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	WS       WSConfig       `mapstructure:"ws"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig is optional; an empty Addr disables the event mirror.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type TimeoutConfig struct {
	Store time.Duration `mapstructure:"store"`
	Blob  time.Duration `mapstructure:"blob"`
}

type WSConfig struct {
	SendBuffer int           `mapstructure:"send_buffer"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	ReadLimit  int64         `mapstructure:"read_limit"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). Every key can
// be overridden from the environment, e.g. AUDIOCHAT_DATABASE_DSN.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("AUDIOCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("addr", cfg.Addr).
		Str("db", cfg.Database.Driver).Str("blob", cfg.Blob.Backend).Bool("redis", cfg.Redis.Addr != "").
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeRelease)
	v.SetDefault("addr", ":8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/audiochat.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel_prefix", "audiochat")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("blob.backend", blob.BackendDisk)
	v.SetDefault("blob.dir", "data/clips")
	v.SetDefault("blob.public_url", "http://localhost:8080/blobs")
	v.SetDefault("blob.s3_bucket", "")
	v.SetDefault("blob.s3_region", "")
	v.SetDefault("blob.max_bytes", 10<<20)

	v.SetDefault("timeouts.store", "5s")
	v.SetDefault("timeouts.blob", "30s")

	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.read_limit", 8192)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.Blob.Backend {
	case blob.BackendDisk, blob.BackendS3:
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.Blob.Backend)
	}
	if c.Blob.MaxBytes <= 0 {
		return errors.New("config: blob.max_bytes must be positive")
	}
	if c.Auth.JWTSecret == "" {
		if c.Mode != ModeDebug {
			return errors.New("config: auth.jwt_secret is required outside debug mode")
		}
		log.Warn().Str("module", "config").Msg("auth.jwt_secret not set, using the development secret")
		c.Auth.JWTSecret = devSecret
	}
	return nil
}
