package storage

import (
	"context"
	"fmt"
)

// Drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and locates the backing database
type Config struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	Path   string `koanf:"path" validate:"required_if=Driver sqlite"`
	DSN    string `koanf:"dsn" validate:"required_if=Driver postgres"`
}

// DefaultConfig returns an on-disk SQLite store in the working directory
func DefaultConfig() Config {
	return Config{Driver: DriverSQLite, Path: "triage.db"}
}

// Open connects to the configured backend and applies migrations
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLiteStorage(cfg.Path)
	case DriverPostgres:
		return NewPostgresStorage(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
