package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env               string `mapstructure:"ENV"`
	DBDriver          string `mapstructure:"DB_DRIVER"`
	DBPath            string `mapstructure:"DB_PATH"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32  `mapstructure:"DB_MIN_CONNS"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	StatusPort        string `mapstructure:"STATUS_PORT"`
	PathologyLinkDays int    `mapstructure:"PATHOLOGY_LINK_DAYS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("DB_PATH", "chartfold.db")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STATUS_PORT", "8090")
	v.SetDefault("PATHOLOGY_LINK_DAYS", 14)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("DB_DRIVER")
	v.BindEnv("DB_PATH")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("STATUS_PORT")
	v.BindEnv("PATHOLOGY_LINK_DAYS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the store settings are usable. DATABASE_URL is only
// required for the postgres driver; sqlite needs a file path.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("DB_PATH is required when DB_DRIVER is %q", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is %q", DriverPostgres)
		}
		if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("invalid pool bounds: DB_MIN_CONNS=%d DB_MAX_CONNS=%d", c.DBMinConns, c.DBMaxConns)
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
	}

	if c.PathologyLinkDays < 1 {
		return fmt.Errorf("PATHOLOGY_LINK_DAYS must be positive, got %d", c.PathologyLinkDays)
	}
	return nil
}
