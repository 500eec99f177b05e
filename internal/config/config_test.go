package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_RequiresDatabase(t *testing.T) {
	os.Unsetenv("DATABASE")
	os.Unsetenv("STORE_DRIVER")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE is missing")
	}
}

func TestLoad_WithDatabase(t *testing.T) {
	t.Setenv("DATABASE", "mongodb://localhost:27017/clinic")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database != "mongodb://localhost:27017/clinic" {
		t.Errorf("expected DATABASE to be set, got %s", cfg.Database)
	}
	if cfg.Port != "3000" {
		t.Errorf("expected default port 3000, got %s", cfg.Port)
	}
	if cfg.StoreDriver != DriverMongo {
		t.Errorf("expected default driver mongo, got %s", cfg.StoreDriver)
	}
	if cfg.DBMaxConns != 10 {
		t.Errorf("expected default max conns 10, got %d", cfg.DBMaxConns)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %s", cfg.RequestTimeout)
	}
	if cfg.StaticDir != "build" {
		t.Errorf("expected default static dir build, got %s", cfg.StaticDir)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
}

func TestLoad_MemoryDriverNeedsNoDatabase(t *testing.T) {
	os.Unsetenv("DATABASE")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.StoreDriver)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:    DriverPostgres,
			Database:       "postgres://u:p@localhost:5432/clinic",
			DBMaxConns:     10,
			RequestTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid postgres", func(c *Config) {}, false},
		{"valid mongo srv", func(c *Config) {
			c.StoreDriver = DriverMongo
			c.Database = "mongodb+srv://cluster.example.net/clinic"
		}, false},
		{"mongo with postgres url", func(c *Config) { c.StoreDriver = DriverMongo }, true},
		{"postgres with mongo url", func(c *Config) { c.Database = "mongodb://localhost" }, true},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mysql" }, true},
		{"zero max conns", func(c *Config) { c.DBMaxConns = 0 }, true},
		{"min above max", func(c *Config) { c.DBMinConns = 11 }, true},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"memory without database", func(c *Config) {
			c.StoreDriver = DriverMemory
			c.Database = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}
