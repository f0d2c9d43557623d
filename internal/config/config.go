package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings, loaded from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`

	// Database
	DBHost                 string `env:"DB_HOST" envDefault:"localhost"`
	DBPort                 string `env:"DB_PORT" envDefault:"5432"`
	DBUser                 string `env:"DB_USER" envDefault:"ussd_user"`
	DBPass                 string `env:"DB_PASS"`
	DBName                 string `env:"DB_NAME" envDefault:"ussd_db"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`
	UseMemoryStore         bool   `env:"USE_MEMORY_STORE" envDefault:"false"`

	// Redis (optional hot-session store; unset means sessions live in the DB)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Gateway / admin access
	APIKey     string   `env:"API_KEY" envDefault:"your_secure_api_key"`
	AllowedIPs []string `env:"ALLOWED_IPS" envSeparator:"," envDefault:"127.0.0.1"`

	// Session engine
	SessionTimeout   time.Duration `env:"SESSION_TIMEOUT" envDefault:"180s"`
	ReaperInterval   time.Duration `env:"REAPER_INTERVAL" envDefault:"30s"`
	MaxInvalidInputs int           `env:"MAX_INVALID_INPUTS" envDefault:"3"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`
}

// Load reads .env files (when present) and parses the environment.
func Load() (*Config, error) {
	// .env is optional; environment variables win in deployed environments.
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("environments/.env.development")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
