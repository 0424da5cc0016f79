package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains server configuration. It is built once at startup and
// passed to constructors; nothing reads the environment after that.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel int    `env:"LOG_LEVEL" envDefault:"0"`

	Database   Database   `envPrefix:"DATABASE_"`
	JWT        JWT        `envPrefix:"JWT_"`
	SuperAdmin SuperAdmin `envPrefix:"SUPER_ADMIN_"`
}

// Database contains database connection parameters. A postgres:// DSN
// selects the postgres driver; anything else is treated as a sqlite
// file path.
type Database struct {
	DSN string `env:"DSN" envDefault:"fleethub.db"`
}

// JWT contains token signing parameters.
type JWT struct {
	Secret string        `env:"SECRET" envDefault:"fleethub-dev-secret-change-in-production"`
	TTL    time.Duration `env:"TTL" envDefault:"24h"`
}

// SuperAdmin is the bootstrap account ensured at startup.
type SuperAdmin struct {
	Email    string `env:"EMAIL" envDefault:"superadmin@example.com"`
	Password string `env:"PASSWORD" envDefault:"changeme123"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
