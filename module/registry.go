package module

import (
	"fmt"
	"sync"

	"github.com/bknd-io/bknd/errors"
)

// Factory builds one module instance.
type Factory func(deps Dependencies) (Module, error)

// Registry is the enum-keyed factory table. Only keys in BuildOrder are
// accepted; asking for an unregistered key is fatal by design.
type Registry struct {
	mu        sync.RWMutex
	factories map[Key]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Key]Factory)}
}

// Register adds a factory for a known key. Re-registering a key replaces
// the previous factory.
func (r *Registry) Register(key Key, f Factory) error {
	if !key.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnregisteredModule, key),
			"Registry", "Register", "unknown module key")
	}
	if f == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil factory for %q", key),
			"Registry", "Register", "invalid factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = f
	return nil
}

// Has reports whether a factory is registered for the key.
func (r *Registry) Has(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[key]
	return ok
}

// Keys lists the registered keys in build order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// only BuildOrder keys can be registered, so this walk covers all
	out := make([]Key, 0, len(r.factories))
	for _, key := range BuildOrder {
		if _, ok := r.factories[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// New instantiates the module registered under the key.
func (r *Registry) New(key Key, deps Dependencies) (Module, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnregisteredModule, key)
	}
	mod, err := f(deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "New",
			fmt.Sprintf("factory for %q failed", key))
	}
	return mod, nil
}

// DefaultRegistry returns a registry with every built-in module.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for key, f := range map[Key]Factory{
		KeyServer:   NewServerModule,
		KeyData:     NewDataModule,
		KeyAuth:     NewAuthModule,
		KeyMedia:    NewMediaModule,
		KeyWorkflow: NewWorkflowModule,
	} {
		// keys are compile-time constants; Register cannot fail here
		_ = r.Register(key, f)
	}
	return r
}
