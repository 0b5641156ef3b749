package module

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/bknd-io/bknd/entity"
	"github.com/bknd-io/bknd/errors"
	"github.com/bknd-io/bknd/eventbus"
)

// Manager is the transient variant of the lifecycle engine: it owns module
// instances and the runtime context and runs the ordered build loop. It
// has no persistence; its version is always 0.
//
// A manager is not safe for concurrent use. Build and mutation operations
// are expected to run from a single logical caller at a time.
type Manager struct {
	registry *Registry
	order    []Key
	logger   *slog.Logger
	bus      eventbus.Bus
	db       *sql.DB
	metrics  *Metrics

	modules   map[Key]Module
	rc        *Context
	built     bool
	builtHook func(ctx context.Context, rc *Context) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithBus sets the event bus carried into every runtime context.
func WithBus(bus eventbus.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithDB sets the shared database connection.
func WithDB(db *sql.DB) Option {
	return func(m *Manager) { m.db = db }
}

// WithMetrics attaches engine metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRegistry replaces the default module registry.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithBuiltHook installs a hook invoked after every successful build pass.
func WithBuiltHook(hook func(ctx context.Context, rc *Context) error) Option {
	return func(m *Manager) { m.builtHook = hook }
}

// NewManager creates a transient manager. The initial tree maps module
// keys to their configuration sub-trees and is applied as given; keys
// without an entry keep their schema defaults.
func NewManager(initial map[string]any, opts ...Option) (*Manager, error) {
	m := &Manager{
		registry: DefaultRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = eventbus.NewMemoryBus(m.logger)
	}
	m.logger = m.logger.With("component", "module-manager")
	m.order = m.registry.Keys()

	if err := m.createModules(initial); err != nil {
		return nil, err
	}
	return m, nil
}

// Version is constant 0 for the transient variant.
func (m *Manager) Version() int { return 0 }

// Built reports whether a build pass has completed.
func (m *Manager) Built() bool { return m.built }

// Context returns the current runtime context, nil before the first build.
func (m *Manager) Context() *Context { return m.rc }

// Bus returns the event bus.
func (m *Manager) Bus() eventbus.Bus { return m.bus }

// Module returns the instance registered under the key.
func (m *Manager) Module(key Key) (Module, error) {
	mod, ok := m.modules[key]
	if !ok {
		return nil, errors.ErrUnregisteredModule
	}
	return mod, nil
}

// Configs aggregates every module's configuration, secrets included.
// This is the in-memory truth the engine diffs and persists from.
func (m *Manager) Configs() map[string]any {
	out := make(map[string]any, len(m.order))
	for _, key := range m.order {
		out[string(key)] = m.modules[key].Config()
	}
	return out
}

// ToJSON aggregates every module's serialized configuration.
func (m *Manager) ToJSON(includeSecrets bool) (map[string]any, error) {
	out := make(map[string]any, len(m.order))
	for _, key := range m.order {
		cfg, err := m.modules[key].ToJSON(includeSecrets)
		if err != nil {
			return nil, err
		}
		out[string(key)] = cfg
	}
	return out, nil
}

// SetConfigs applies per-module sub-trees from an aggregate tree. Modules
// without an entry are left untouched.
func (m *Manager) SetConfigs(tree map[string]any) error {
	for _, key := range m.order {
		sub, ok := tree[string(key)].(map[string]any)
		if !ok {
			continue
		}
		if err := m.modules[key].SetConfig(sub); err != nil {
			return errors.Wrap(err, "Manager", "SetConfigs",
				"applying config to "+string(key)+" failed")
		}
	}
	return nil
}

// BuildOptions controls one build pass.
type BuildOptions struct {
	// Graceful makes the pass a no-op when modules are already built.
	Graceful bool
	// IgnoreFlags skips the post-pass reaction to raised flags.
	IgnoreFlags bool
	// ForceSync raises the sync flag regardless of module results.
	ForceSync bool
	// SyncForce passes force through to the entity schema sync.
	SyncForce bool
}

// BuildModules runs one ordered build pass. The runtime context and every
// module instance are recreated first so no stale state leaks between
// passes. A module build error propagates unrecovered; the caller decides
// whether to retry, roll back, or abort.
func (m *Manager) BuildModules(ctx context.Context, opts BuildOptions) error {
	if opts.Graceful && m.built {
		return nil
	}
	// the previous pass no longer reflects what this one will produce;
	// stay unbuilt until the pass completes
	m.built = false

	snapshot := make(map[string]any)
	if m.modules != nil {
		snapshot = m.Configs()
	}
	m.rc = newContext(m.db, m.bus)
	if err := m.createModules(snapshot); err != nil {
		m.metrics.buildFailed()
		return err
	}

	agg := BuildResult{SyncRequired: opts.ForceSync}
	for _, key := range m.order {
		res, err := m.modules[key].Build(ctx, m.rc)
		if err != nil {
			m.metrics.buildFailed()
			return errors.Wrap(err, "Manager", "BuildModules",
				"building "+string(key)+" failed")
		}
		agg = agg.Merge(res)
	}

	m.built = true
	m.metrics.buildCompleted()
	if m.builtHook != nil {
		if err := m.builtHook(ctx, m.rc); err != nil {
			return errors.Wrap(err, "Manager", "BuildModules", "built hook failed")
		}
	}
	if err := m.bus.Emit(ctx, eventbus.NewEvent(eventbus.EventBoot, map[string]any{
		"modules": keyStrings(m.order),
	})); err != nil {
		m.logger.Warn("boot event emit failed", "error", err)
	}

	if opts.IgnoreFlags {
		return nil
	}
	if agg.SyncRequired {
		if m.rc.Entities == nil {
			m.logger.Warn("schema sync requested but no entity manager is installed")
		} else {
			cs, err := m.rc.Entities.Schema().Sync(ctx, entity.SyncOptions{Force: opts.SyncForce})
			if err != nil {
				return errors.Wrap(err, "Manager", "BuildModules", "entity schema sync failed")
			}
			if !cs.Empty() {
				m.logger.Info("entity schema synced",
					"created", cs.CreatedTables,
					"altered", cs.AlteredTables,
					"dropped", cs.DroppedTables)
			}
		}
	}
	if agg.CtxReloadRequired {
		// keep the installed entity manager: no module pass follows to
		// reinstall it on the fresh context
		entities := m.rc.Entities
		m.rc = newContext(m.db, m.bus)
		m.rc.Entities = entities
	}
	return nil
}

// createModules instantiates every registered module and applies the
// given per-key configuration sub-trees.
func (m *Manager) createModules(tree map[string]any) error {
	deps := Dependencies{
		Logger:  m.logger,
		DB:      m.db,
		Bus:     m.bus,
		Metrics: m.metrics,
	}
	modules := make(map[Key]Module, len(m.order))
	for _, key := range m.order {
		mod, err := m.registry.New(key, deps)
		if err != nil {
			return err
		}
		if sub, ok := tree[string(key)].(map[string]any); ok {
			if err := mod.SetConfig(sub); err != nil {
				return errors.Wrap(err, "Manager", "createModules",
					"initial config for "+string(key)+" rejected")
			}
		}
		modules[key] = mod
	}
	m.modules = modules
	return nil
}

func keyStrings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
