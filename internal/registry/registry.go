package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/plugd/internal/plugin"
	"github.com/kingrea/plugd/internal/resolver"
)

var (
	// ErrLocked is returned when registering after the ordering was fixed.
	ErrLocked = errors.New("registry: locked, plugins can no longer be added")
	// ErrDuplicateName is returned when a plugin name is already registered.
	ErrDuplicateName = errors.New("registry: duplicate plugin name")
	// ErrDuplicateIdentity is returned when a plugin implementation is already registered.
	ErrDuplicateIdentity = errors.New("registry: duplicate plugin identity")
	// ErrNotLocked is returned when the resolved order is requested before Lock.
	ErrNotLocked = errors.New("registry: not locked")
)

// Option customizes Registry construction.
type Option func(*Registry)

// WithLogger injects a logger for ordering diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry holds the registered plugins and, once locked, their resolved
// execution order.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]plugin.Plugin
	byIdentity map[plugin.Identity]plugin.Plugin
	registered []plugin.Plugin
	plan       resolver.Plan
	locked     bool
	logger     *zap.Logger
}

// New returns an empty, unlocked registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byName:     map[string]plugin.Plugin{},
		byIdentity: map[plugin.Identity]plugin.Plugin{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds a plugin. Plugins implementing plugin.Addable are handed the
// registry once they are visible to lookups.
func (r *Registry) Register(p plugin.Plugin) error {
	if err := plugin.Validate(p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.Name())
	r.mu.Lock()
	if r.locked {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLocked, name)
	}
	if _, exists := r.byName[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	if existing, exists := r.byIdentity[p.Identity()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s already registered as %s", ErrDuplicateIdentity, p.Identity(), existing.Name())
	}
	r.byName[name] = p
	r.byIdentity[p.Identity()] = p
	r.registered = append(r.registered, p)
	r.mu.Unlock()

	if addable, ok := p.(plugin.Addable); ok {
		addable.OnAdded(r)
	}
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(p plugin.Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Lookup returns the plugin registered under an implementation identity.
func (r *Registry) Lookup(id plugin.Identity) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byIdentity[id]
	return p, ok
}

// ByName returns the plugin registered under name.
func (r *Registry) ByName(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.TrimSpace(name)]
	return p, ok
}

// Lock resolves the execution order and closes registration. Calling Lock on
// a locked registry is a no-op.
func (r *Registry) Lock() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return nil
	}
	r.plan = resolver.Resolve(r.registered)
	r.locked = true
	for _, cycle := range r.plan.Cycles() {
		r.logger.Warn("plugin ordering constraints form a cycle; order among them is best effort",
			zap.Strings("plugins", cycle))
	}
	r.logger.Debug("plugin order fixed", zap.Strings("order", r.plan.Names()))
	return nil
}

// Locked reports whether Lock has been called.
func (r *Registry) Locked() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}

// Ordered returns the resolved execution order, or nil before Lock.
func (r *Registry) Ordered() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.locked {
		return nil
	}
	return append([]plugin.Plugin{}, r.plan.Order...)
}

// Plan returns the resolver output backing the execution order.
func (r *Registry) Plan() (resolver.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.locked {
		return resolver.Plan{}, ErrNotLocked
	}
	return r.plan, nil
}

// Names returns plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.registered))
	for _, p := range r.registered {
		names = append(names, p.Name())
	}
	return names
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registered)
}
