package module

import (
	"context"
	"fmt"

	"github.com/bknd-io/bknd/errors"
	"github.com/bknd-io/bknd/eventbus"
)

// SafeMutator is the restricted mutation facade over one module. Every
// call applies the change, rebuilds all modules synchronously inside the
// call, and persists; a failure at any point restores the last stable
// snapshot before the error is returned, so the caller either sees the
// mutation fully applied and built, or not applied at all.
type SafeMutator struct {
	m   *VersionedManager
	key Key
}

// MutateConfigSafe returns the safe mutation facade for one module.
func (m *VersionedManager) MutateConfigSafe(key Key) (*SafeMutator, error) {
	if _, err := m.Module(key); err != nil {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnregisteredModule, key)
	}
	return &SafeMutator{m: m, key: key}, nil
}

// Set writes a single value at a dotted path.
func (s *SafeMutator) Set(ctx context.Context, path string, value any) error {
	return s.run(ctx, func(mod Module, onChange ChangeFunc) error {
		return mod.Mutate().Set(ctx, path, value, onChange)
	})
}

// Patch deep-merges a partial tree at a dotted path and returns the
// resulting subtree.
func (s *SafeMutator) Patch(ctx context.Context, path string, value map[string]any) (map[string]any, error) {
	var result map[string]any
	err := s.run(ctx, func(mod Module, onChange ChangeFunc) error {
		var err error
		result, err = mod.Mutate().Patch(ctx, path, value, onChange)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Overwrite replaces the module's whole configuration tree.
func (s *SafeMutator) Overwrite(ctx context.Context, cfg map[string]any) error {
	return s.run(ctx, func(mod Module, onChange ChangeFunc) error {
		return mod.Mutate().Overwrite(ctx, cfg, onChange)
	})
}

// Remove deletes the value at a dotted path.
func (s *SafeMutator) Remove(ctx context.Context, path string) error {
	return s.run(ctx, func(mod Module, onChange ChangeFunc) error {
		return mod.Mutate().Remove(ctx, path, onChange)
	})
}

// run executes one mutation with the rebuild callback installed for its
// duration. The callback announces the change and rebuilds synchronously,
// so a build failure surfaces to the mutation call itself. On success the
// new state is persisted; on any failure the stable snapshot is restored.
func (s *SafeMutator) run(ctx context.Context, invoke func(Module, ChangeFunc) error) error {
	mod, err := s.m.Module(s.key)
	if err != nil {
		return err
	}

	onChange := func(cctx context.Context, key Key, cfg map[string]any) error {
		if err := s.m.bus.Emit(cctx, eventbus.NewEvent(eventbus.EventConfigUpdate, map[string]any{
			"module": string(key),
		})); err != nil {
			s.m.logger.Warn("config update event emit failed", "error", err)
		}
		return s.m.BuildModules(cctx, BuildOptions{})
	}

	if err := invoke(mod, onChange); err != nil {
		s.m.rollback()
		s.notify()
		return err
	}
	// Save rolls back itself on failure
	if err := s.m.Save(ctx); err != nil {
		s.notify()
		return err
	}
	s.notify()
	return nil
}

// notify reports the module's current configuration to the external hook,
// whether the mutation landed or was reverted.
func (s *SafeMutator) notify() {
	if s.m.onUpdated == nil {
		return
	}
	mod, err := s.m.Module(s.key)
	if err != nil {
		return
	}
	s.m.onUpdated(s.key, mod.Config())
}
