package store

import (
	"context"
	"fmt"
)

// Backend identifies a store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendMemory, BackendPostgres:
		return true
	}
	return false
}

// Config selects and configures a store backend.
type Config struct {
	// Backend selects the implementation. Defaults to "memory" when empty.
	Backend Backend `yaml:"backend"`

	// DSN is the PostgreSQL connection string. Required for the postgres
	// backend; ignored otherwise.
	DSN string `yaml:"dsn"`
}

// Open constructs the configured [Store].
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres backend requires a dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
