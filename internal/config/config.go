package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the tenant provisioning service.
type Config struct {
	Server   ServerConfig
	Central  CentralConfig
	Tenancy  TenancyConfig
	Redis    RedisConfig
	EmailKey []byte
}

type ServerConfig struct {
	Port int
	Env  string
}

// CentralConfig targets the shared registry database. The same host
// credentials are reused for DDL against tenant databases, so the user
// needs CREATEDB.
type CentralConfig struct {
	URL             string
	MaxOpenConns    int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
}

type TenancyConfig struct {
	DatabasePrefix string
	StepTimeout    time.Duration
	CreateRetries  int
}

type RedisConfig struct {
	Addr string // empty disables the resolve cache
}

// Load reads configuration from environment variables and returns a
// validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("HTTP_PORT", 8080),
			Env:  envString("SERVICE_ENV", "development"),
		},
		Central: CentralConfig{
			URL:             os.Getenv("CENTRAL_DATABASE_URL"),
			MaxOpenConns:    envInt("CENTRAL_DB_MAX_OPEN_CONNS", 20),
			MinIdleConns:    envInt("CENTRAL_DB_MIN_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("CENTRAL_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Tenancy: TenancyConfig{
			DatabasePrefix: envString("TENANT_DB_PREFIX", "tenant_"),
			StepTimeout:    envDuration("PROVISION_STEP_TIMEOUT", 30*time.Second),
			CreateRetries:  envInt("PROVISION_CREATE_RETRIES", 3),
		},
		Redis: RedisConfig{
			Addr: os.Getenv("REDIS_ADDR"),
		},
		EmailKey: []byte(os.Getenv("EMAIL_ENC_KEY")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Central.URL == "" {
		return fmt.Errorf("CENTRAL_DATABASE_URL is required")
	}
	if c.Tenancy.DatabasePrefix == "" {
		return fmt.Errorf("TENANT_DB_PREFIX must not be empty")
	}
	if c.Tenancy.CreateRetries < 1 {
		return fmt.Errorf("PROVISION_CREATE_RETRIES must be at least 1")
	}
	if len(c.EmailKey) != 0 && len(c.EmailKey) != 32 {
		return fmt.Errorf("EMAIL_ENC_KEY must be 32 bytes, got %d", len(c.EmailKey))
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
