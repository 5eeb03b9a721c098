package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Config carries everything a backend needs to connect. Fields a backend
// does not use are ignored.
type Config struct {
	Backend         string
	DSN             string
	Project         string
	Location        string
	CredentialsPath string
	BatchSize       int
	Log             *zap.Logger
}

// Factory opens a Warehouse for cfg.
type Factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for a backend name. Backend
// packages call it from init.
func Register(backend string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[strings.ToLower(backend)] = f
}

// Backends lists the registered backend names.
func Backends() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open looks up cfg.Backend and opens a Warehouse with it.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	factoryMu.RLock()
	f, ok := factories[strings.ToLower(cfg.Backend)]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for %q (have %s)",
			cfg.Backend, strings.Join(Backends(), ", "))
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return f(ctx, cfg)
}
