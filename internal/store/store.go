// Package store opens the persistence backend for the service.
//
// Backends register themselves from init() in their own packages
// (store/postgres, store/sqlite); callers blank-import the ones they want
// and call Open with the configured driver name.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/prospects/internal/core"
)

// Config selects and tunes a backend.
type Config struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

// Backend is a core.Store that can create its own schema.
type Backend interface {
	core.Store

	// Migrate creates the system tables and one table per registered
	// source collection. It is idempotent.
	Migrate(ctx context.Context) error
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available under driver. It panics on an empty
// name, a nil factory or a duplicate registration.
func Register(driver string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if driver == "" {
		panic("store: Register called with empty driver")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[driver]; exists {
		panic(fmt.Sprintf("store: factory already registered for driver=%q", driver))
	}
	factories[driver] = f
}

// Drivers returns the registered driver names.
func Drivers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the backend for cfg.Driver and migrates it when asked.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	if cfg.Driver == "" {
		return nil, core.NewConfigurationError("store", "missing driver")
	}

	factoriesMu.RLock()
	f := factories[cfg.Driver]
	factoriesMu.RUnlock()

	if f == nil {
		return nil, core.NewConfigurationError("store",
			fmt.Sprintf("unsupported driver %q (registered: %v)", cfg.Driver, Drivers()))
	}

	b, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if cfg.AutoMigrate {
		if err := b.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
		}
	}
	return b, nil
}
