package module

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/bknd-io/bknd/diff"
	"github.com/bknd-io/bknd/errors"
	"github.com/bknd-io/bknd/schema"
)

// Base is the configuration holder every module embeds. It owns the
// module's config tree, validates changes against the schema, and
// implements the restricted mutation surface. Embedders override Build
// and, where they have consistency rules, OnBeforeUpdate.
type Base struct {
	key    Key
	schema schema.Schema
	logger *slog.Logger

	mu     sync.RWMutex
	config map[string]any
}

// NewBase creates a holder initialized with the schema defaults.
func NewBase(key Key, s schema.Schema, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		key:    key,
		schema: s,
		logger: logger.With("module", string(key)),
		config: s.Defaults(),
	}
}

// Key returns the module's identity.
func (b *Base) Key() Key { return b.key }

// Schema returns the module's configuration schema.
func (b *Base) Schema() schema.Schema { return b.schema }

// Logger returns the module-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Mutate exposes the restricted mutation surface.
func (b *Base) Mutate() MutationAPI { return b }

// Build is a no-op; modules with build behavior override it.
func (b *Base) Build(context.Context, *Context) (BuildResult, error) {
	return BuildResult{}, nil
}

// OnBeforeUpdate accepts every change; modules with cross-field rules
// override it.
func (b *Base) OnBeforeUpdate(_, _ map[string]any) error { return nil }

// Config returns a deep copy of the current configuration.
func (b *Base) Config() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneTree(b.config)
}

// ToJSON serializes the configuration. Without includeSecrets, values of
// secret-typed properties are blanked.
func (b *Base) ToJSON(includeSecrets bool) (map[string]any, error) {
	cfg := b.Config()
	if includeSecrets {
		return cfg, nil
	}
	ext := schema.ExtractSecrets(cfg, b.schema)
	redacted, ok := ext.Tree.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return redacted, nil
}

// SetConfig validates and installs a new configuration tree.
func (b *Base) SetConfig(cfg map[string]any) error {
	if err := b.schema.Validate(cfg); err != nil {
		return errors.WrapInvalid(err, string(b.key), "SetConfig", "config rejected by schema")
	}
	b.mu.Lock()
	b.config = cloneTree(cfg)
	b.mu.Unlock()
	return nil
}

// Set writes a single value at a dotted path.
func (b *Base) Set(ctx context.Context, path string, value any, onChange ChangeFunc) error {
	return b.commit(ctx, "Set", onChange, func(cfg map[string]any) error {
		return setPath(cfg, path, value)
	})
}

// Patch deep-merges a partial tree into the value at a dotted path. An
// empty path patches the root. The resulting subtree is returned.
func (b *Base) Patch(ctx context.Context, path string, value map[string]any, onChange ChangeFunc) (map[string]any, error) {
	var result map[string]any
	err := b.commit(ctx, "Patch", onChange, func(cfg map[string]any) error {
		target, err := resolveMap(cfg, path)
		if err != nil {
			return err
		}
		deepMerge(target, value)
		result = cloneTree(target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Overwrite replaces the whole configuration tree.
func (b *Base) Overwrite(ctx context.Context, cfg map[string]any, onChange ChangeFunc) error {
	return b.commit(ctx, "Overwrite", onChange, func(dst map[string]any) error {
		for k := range dst {
			delete(dst, k)
		}
		for k, v := range cloneTree(cfg) {
			dst[k] = v
		}
		return nil
	})
}

// Remove deletes the value at a dotted path.
func (b *Base) Remove(ctx context.Context, path string, onChange ChangeFunc) error {
	return b.commit(ctx, "Remove", onChange, func(cfg map[string]any) error {
		return removePath(cfg, path)
	})
}

// commit runs a mutation against a clone, validates the outcome, installs
// it, and invokes the change callback. A failed callback restores the
// previous configuration before the error is returned.
func (b *Base) commit(ctx context.Context, op string, onChange ChangeFunc, mutate func(map[string]any) error) error {
	b.mu.Lock()
	prev := b.config
	next := cloneTree(prev)
	if err := mutate(next); err != nil {
		b.mu.Unlock()
		return errors.WrapInvalid(err, string(b.key), op, "mutation failed")
	}
	if err := b.schema.Validate(next); err != nil {
		b.mu.Unlock()
		return errors.WrapInvalid(err, string(b.key), op, "config rejected by schema")
	}
	b.config = next
	b.mu.Unlock()

	if onChange == nil {
		return nil
	}
	if err := onChange(ctx, b.key, cloneTree(next)); err != nil {
		b.mu.Lock()
		b.config = prev
		b.mu.Unlock()
		return err
	}
	return nil
}

func cloneTree(tree map[string]any) map[string]any {
	out, ok := diff.Clone(tree).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return out
}

// setPath writes value at a dotted path, creating intermediate objects.
// Numeric segments index into existing arrays.
func setPath(cfg map[string]any, path string, value any) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", errors.ErrInvalidConfig)
	}
	segments := strings.Split(path, ".")
	var node any = cfg
	for i, seg := range segments {
		last := i == len(segments)-1
		switch container := node.(type) {
		case map[string]any:
			if last {
				container[seg] = value
				return nil
			}
			next, ok := container[seg]
			if !ok {
				child := map[string]any{}
				container[seg] = child
				node = child
				continue
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return fmt.Errorf("%w: bad index %q in path %q", errors.ErrInvalidConfig, seg, path)
			}
			if last {
				container[idx] = value
				return nil
			}
			node = container[idx]
		default:
			return fmt.Errorf("%w: segment %q in path %q is not a container", errors.ErrInvalidConfig, seg, path)
		}
	}
	return nil
}

// removePath deletes the value at a dotted path. The parent must exist;
// a missing leaf is a no-op.
func removePath(cfg map[string]any, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", errors.ErrInvalidConfig)
	}
	segments := strings.Split(path, ".")
	parentPath := strings.Join(segments[:len(segments)-1], ".")
	leaf := segments[len(segments)-1]

	parent, err := resolveMap(cfg, parentPath)
	if err != nil {
		return err
	}
	delete(parent, leaf)
	return nil
}

// resolveMap walks a dotted path and returns the map it points at. An
// empty path resolves to the root.
func resolveMap(cfg map[string]any, path string) (map[string]any, error) {
	if path == "" {
		return cfg, nil
	}
	var node any = cfg
	for _, seg := range strings.Split(path, ".") {
		switch container := node.(type) {
		case map[string]any:
			next, ok := container[seg]
			if !ok {
				child := map[string]any{}
				container[seg] = child
				node = child
				continue
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(container) {
				return nil, fmt.Errorf("%w: bad index %q in path %q", errors.ErrInvalidConfig, seg, path)
			}
			node = container[idx]
		default:
			return nil, fmt.Errorf("%w: segment %q in path %q is not a container", errors.ErrInvalidConfig, seg, path)
		}
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: path %q does not point at an object", errors.ErrInvalidConfig, path)
	}
	return m, nil
}

// deepMerge merges src into dst in place. Nested maps merge recursively;
// any other value in src replaces the one in dst.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			dst[k] = cloneTree(srcMap)
			continue
		}
		dst[k] = diff.Clone(v)
	}
}
