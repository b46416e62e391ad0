package database

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm/logger"
)

func TestDefaultPoolConfig(t *testing.T) {
	config := DefaultPoolConfig()

	if config.Driver != DriverPostgres {
		t.Errorf("Expected Driver to be postgres, got %s", config.Driver)
	}
	if config.MaxOpenConns != 25 {
		t.Errorf("Expected MaxOpenConns to be 25, got %d", config.MaxOpenConns)
	}
	if config.MaxIdleConns != 10 {
		t.Errorf("Expected MaxIdleConns to be 10, got %d", config.MaxIdleConns)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime to be 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime != 30*time.Minute {
		t.Errorf("Expected ConnMaxIdleTime to be 30 minutes, got %v", config.ConnMaxIdleTime)
	}
	if config.LogLevel != logger.Info {
		t.Errorf("Expected LogLevel to be Info, got %v", config.LogLevel)
	}
}

func TestNewDatabasePool_WithNilConfig(t *testing.T) {
	_, err := NewDatabasePool(nil)
	if err == nil {
		t.Error("Expected error due to empty DSN, got nil")
	}
}

func TestNewDatabasePool_UnsupportedDriver(t *testing.T) {
	config := DefaultPoolConfig()
	config.Driver = "oracle"
	config.DSN = "whatever"

	if _, err := NewDatabasePool(config); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestNewDatabasePool_SQLiteInMemory(t *testing.T) {
	config := DefaultPoolConfig()
	config.Driver = DriverSQLite
	config.DSN = "file::memory:?cache=shared"
	config.LogLevel = logger.Silent

	pool, err := NewDatabasePool(config)
	if err != nil {
		t.Fatalf("Expected sqlite pool, got error: %v", err)
	}
	defer pool.Close()

	if err := pool.Health(context.Background()); err != nil {
		t.Errorf("Expected healthy pool, got %v", err)
	}

	stats := pool.Stats()
	if stats["max_open_connections"] != 1 {
		t.Errorf("Expected sqlite pool to be limited to one connection, got %v", stats["max_open_connections"])
	}
}

func TestPoolConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config *PoolConfig
	}{
		{
			name: "Empty DSN",
			config: &PoolConfig{
				Driver:   DriverSQLite,
				LogLevel: logger.Silent,
			},
		},
		{
			name: "Negative limits",
			config: &PoolConfig{
				Driver:       DriverSQLite,
				DSN:          ":memory:",
				MaxOpenConns: -1,
				MaxIdleConns: -1,
				LogLevel:     logger.Silent,
			},
		},
		{
			name: "Negative lifetime",
			config: &PoolConfig{
				Driver:          DriverSQLite,
				DSN:             ":memory:",
				ConnMaxLifetime: -time.Hour,
				LogLevel:        logger.Silent,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDatabasePool(tt.config); err == nil {
				t.Error("Expected error but pool creation succeeded")
			}
		})
	}
}

func TestDatabasePool_Stats_WithoutConnection(t *testing.T) {
	pool := &DatabasePool{config: &PoolConfig{MaxOpenConns: 10}}

	stats := pool.Stats()
	if _, hasError := stats["error"]; !hasError {
		t.Error("Expected error in stats when DB is nil")
	}
}

func TestDatabasePool_Health_WithoutConnection(t *testing.T) {
	pool := &DatabasePool{}

	if err := pool.Health(context.Background()); err != ErrNoConnection {
		t.Errorf("Expected ErrNoConnection, got %v", err)
	}
}

func TestDatabasePool_Close_WithoutConnection(t *testing.T) {
	pool := &DatabasePool{}

	if err := pool.Close(); err != nil {
		t.Errorf("Expected no error when closing nil DB, got: %v", err)
	}
}
