package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	Database       string        `mapstructure:"DATABASE"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	MongoDatabase  string        `mapstructure:"MONGO_DATABASE"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	StaticDir      string        `mapstructure:"STATIC_DIR"`
	ExportDir      string        `mapstructure:"EXPORT_DIR"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE",
	"STORE_DRIVER",
	"MONGO_DATABASE",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"CORS_ORIGINS",
	"STATIC_DIR",
	"EXPORT_DIR",
	"REQUEST_TIMEOUT",
	"BODY_LIMIT",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
}

// Load reads configuration from an optional .env file and the process
// environment, applies defaults and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "3000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverMongo)
	v.SetDefault("MONGO_DATABASE", "clinic")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("STATIC_DIR", "build")
	v.SetDefault("EXPORT_DIR", "")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// A missing .env is fine; the environment alone is enough.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.StoreDriver == DriverMemory {
		log.Println("WARNING: STORE_DRIVER=memory keeps patient records in process memory; they are lost on restart.")
	}

	return cfg, nil
}

// IsDev reports whether logs should be written for a terminal.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the store settings are coherent. DATABASE is required
// for every driver except memory, and its scheme must match the driver.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.Database == "" {
			return fmt.Errorf("DATABASE is required")
		}
		if !strings.HasPrefix(c.Database, "mongodb://") && !strings.HasPrefix(c.Database, "mongodb+srv://") {
			return fmt.Errorf("DATABASE must be a mongodb:// or mongodb+srv:// URI when STORE_DRIVER is %q", DriverMongo)
		}
	case DriverPostgres:
		if c.Database == "" {
			return fmt.Errorf("DATABASE is required")
		}
		if !strings.HasPrefix(c.Database, "postgres://") && !strings.HasPrefix(c.Database, "postgresql://") {
			return fmt.Errorf("DATABASE must be a postgres:// URL when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q", DriverMongo, DriverPostgres, DriverMemory, c.StoreDriver)
	}

	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
