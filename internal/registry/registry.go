// Package registry assembles the configured storage backends and database
// managers into one service-wide lookup. It is built once at startup; a
// configuration that cannot be assembled is fatal.
package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/storage"
)

// Registry holds every configured backend and database manager. Lookups
// never construct anything; all instances are created in New.
type Registry struct {
	backends []storage.Backend
	byName   map[string]storage.Backend

	databases []*database.Manager
}

// New builds all declared storage backends and database managers. Any
// invalid declaration fails the whole build.
func New(cfg *config.Config) (*Registry, error) {
	r := &Registry{byName: make(map[string]storage.Backend)}

	for i, bc := range cfg.Backends {
		b, err := storage.NewBackendFromConfig(bc)
		if err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		name := bc.Name
		if name == "" {
			name = bc.Type
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("backends[%d]: duplicate backend name %q", i, name)
		}
		r.backends = append(r.backends, b)
		r.byName[name] = b
		logging.L().Info("storage backend registered",
			zap.String("name", name), zap.String("type", b.Type()))
	}

	for i, dc := range cfg.Databases {
		m, err := database.New(dc)
		if err != nil {
			return nil, fmt.Errorf("databases[%d]: %w", i, err)
		}
		r.databases = append(r.databases, m)
		logging.L().Info("database registered", zap.Int("index", i))
	}

	return r, nil
}

// Storage returns the default backend: the first declared one. Nil when no
// backend is configured.
func (r *Registry) Storage() storage.Backend {
	if len(r.backends) == 0 {
		return nil
	}
	return r.backends[0]
}

// StorageByName returns the backend declared under name.
func (r *Registry) StorageByName(name string) (storage.Backend, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// StorageByType returns the first backend of the given type.
func (r *Registry) StorageByType(backendType string) (storage.Backend, bool) {
	for _, b := range r.backends {
		if b.Type() == backendType {
			return b, true
		}
	}
	return nil, false
}

// Backends returns all registered backends in declaration order.
func (r *Registry) Backends() []storage.Backend {
	return r.backends
}

// Database returns the default database manager: the first declared one.
// Nil when no database is configured.
func (r *Registry) Database() *database.Manager {
	if len(r.databases) == 0 {
		return nil
	}
	return r.databases[0]
}

// Databases returns all registered database managers in declaration order.
func (r *Registry) Databases() []*database.Manager {
	return r.databases
}

// Scope attaches a fresh database session scope to ctx and returns the
// release function that tears down every session the unit of work opened.
// The release is safe to call when nothing connected.
func (r *Registry) Scope(ctx context.Context) (context.Context, func()) {
	ctx = database.WithScope(ctx)
	return ctx, func() { database.CloseScope(ctx) }
}

// Close releases all backends and database engines. Called at process
// shutdown; errors are collected, not short-circuited.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s backend: %w", b.Type(), err))
		}
	}
	for i, m := range r.databases {
		if err := m.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect database %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
