package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	JWTIssuer          string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	SocketTokenTTLMin  int      `mapstructure:"SOCKET_TOKEN_TTL_MIN"`
	ChatSendTimeoutMS  int      `mapstructure:"CHAT_SEND_TIMEOUT_MS"`
	ChatIdleTimeoutSec int      `mapstructure:"CHAT_IDLE_TIMEOUT_SEC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SOCKET_TOKEN_TTL_MIN", 5)
	v.SetDefault("CHAT_SEND_TIMEOUT_MS", 1000)
	v.SetDefault("CHAT_IDLE_TIMEOUT_SEC", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("SOCKET_TOKEN_TTL_MIN")
	v.BindEnv("CHAT_SEND_TIMEOUT_MS")
	v.BindEnv("CHAT_IDLE_TIMEOUT_SEC")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: A built-in signing key is used when JWT_SECRET is empty.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SocketTokenTTL returns the lifetime of single-use socket tokens.
func (c *Config) SocketTokenTTL() time.Duration {
	return time.Duration(c.SocketTokenTTLMin) * time.Minute
}

// ChatSendTimeout returns the per-connection broadcast send timeout.
func (c *Config) ChatSendTimeout() time.Duration {
	return time.Duration(c.ChatSendTimeoutMS) * time.Millisecond
}

// ChatIdleTimeout returns how long a connection may stay silent before the
// server pings it and, absent a pong, closes it.
func (c *Config) ChatIdleTimeout() time.Duration {
	return time.Duration(c.ChatIdleTimeoutSec) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret must be configured so that real authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf(
			"JWT_SECRET must be set when ENV=%q; refusing to start without authentication configuration", c.Env)
	}
	if c.SocketTokenTTLMin <= 0 {
		return fmt.Errorf("SOCKET_TOKEN_TTL_MIN must be positive, got %d", c.SocketTokenTTLMin)
	}
	if c.ChatSendTimeoutMS <= 0 {
		return fmt.Errorf("CHAT_SEND_TIMEOUT_MS must be positive, got %d", c.ChatSendTimeoutMS)
	}
	if c.ChatIdleTimeoutSec <= 0 {
		return fmt.Errorf("CHAT_IDLE_TIMEOUT_SEC must be positive, got %d", c.ChatIdleTimeoutSec)
	}
	return nil
}
