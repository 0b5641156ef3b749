package module

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/bknd-io/bknd/diff"
	"github.com/bknd-io/bknd/entity"
	"github.com/bknd-io/bknd/errors"
	"github.com/bknd-io/bknd/eventbus"
	"github.com/bknd-io/bknd/schema"
	"github.com/bknd-io/bknd/store"
)

// VersionedManager is the persistent variant: it adds version tracking,
// fetch/save/migrate over a ConfigRecord store, initial bootstrap, and
// safe single-module mutation with rollback to the last stable snapshot.
type VersionedManager struct {
	*Manager

	store store.Store
	chain *Chain

	version  int
	provided bool
	stable   map[string]any

	runtimeSecrets map[string]string
	seed           func(ctx context.Context, rc *Context) error
	onUpdated      func(key Key, cfg map[string]any)
	managerOpts    []Option
}

// VersionedOption configures a VersionedManager.
type VersionedOption func(*VersionedManager)

// WithManagerOptions passes options through to the embedded Manager.
func WithManagerOptions(opts ...Option) VersionedOption {
	return func(m *VersionedManager) { m.managerOpts = append(m.managerOpts, opts...) }
}

// WithProvidedVersion switches the manager to provided boot mode: the
// initial tree is taken as-is at the given version, no defaults merge and
// no migration. The version must already be current.
func WithProvidedVersion(version int) VersionedOption {
	return func(m *VersionedManager) {
		m.version = version
		m.provided = true
	}
}

// WithRuntimeSecrets supplies secrets resolved outside the store, for
// example from the process environment. Runtime values win over stored
// ones.
func WithRuntimeSecrets(secrets map[string]string) VersionedOption {
	return func(m *VersionedManager) { m.runtimeSecrets = secrets }
}

// WithSeed installs the first-boot seed callback. It runs once during
// setupInitial against a forked context with events suppressed.
func WithSeed(seed func(ctx context.Context, rc *Context) error) VersionedOption {
	return func(m *VersionedManager) { m.seed = seed }
}

// WithOnUpdated installs a hook notified after every safe mutation with
// the module's resulting configuration, reverted or not.
func WithOnUpdated(hook func(key Key, cfg map[string]any)) VersionedOption {
	return func(m *VersionedManager) { m.onUpdated = hook }
}

// NewVersionedManager creates the persistent manager. Without
// WithProvidedVersion the manager boots in partial mode: the initial tree
// is merged over each module's schema defaults and the version is
// resolved from the store on the first Build.
func NewVersionedManager(initial map[string]any, st store.Store, chain *Chain, opts ...VersionedOption) (*VersionedManager, error) {
	if st == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil store"), "VersionedManager", "New", "a store is required")
	}
	if chain == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil migration chain"), "VersionedManager", "New", "a migration chain is required")
	}

	vm := &VersionedManager{store: st, chain: chain}
	for _, opt := range opts {
		opt(vm)
	}

	base, err := NewManager(initial, vm.managerOpts...)
	if err != nil {
		return nil, err
	}
	vm.Manager = base

	if !vm.provided {
		// partial boot: merge the supplied subset over schema defaults
		for _, key := range vm.order {
			mod := vm.modules[key]
			merged := mod.Schema().Defaults()
			if sub, ok := initial[string(key)].(map[string]any); ok {
				deepMerge(merged, sub)
			}
			if err := mod.SetConfig(merged); err != nil {
				return nil, errors.Wrap(err, "VersionedManager", "New",
					"default merge for "+string(key)+" rejected")
			}
		}
	}
	return vm, nil
}

// Version returns the current configuration version, 0 before the first
// Build in partial mode.
func (m *VersionedManager) Version() int { return m.version }

// StableSnapshot returns the last successfully built and persisted tree,
// nil before the first successful cycle.
func (m *VersionedManager) StableSnapshot() map[string]any {
	if m.stable == nil {
		return nil
	}
	return cloneTree(m.stable)
}

// Fetch queries the store for the latest config and secrets rows and
// returns the stored tree with secrets reinjected. errors.ErrConfigNotFound
// signals a fresh install.
func (m *VersionedManager) Fetch(ctx context.Context) (map[string]any, int, error) {
	rec, err := m.store.FetchLatest(ctx, store.TypeConfig)
	if err != nil {
		if errors.Is(err, errors.ErrConfigNotFound) {
			return nil, 0, err
		}
		return nil, 0, errors.WrapTransient(err, "VersionedManager", "Fetch", "config row fetch failed")
	}

	var tree map[string]any
	if err := json.Unmarshal(rec.JSON, &tree); err != nil {
		return nil, 0, errors.WrapFatal(err, "VersionedManager", "Fetch", "stored config is not valid JSON")
	}

	secrets, err := m.fetchSecrets(ctx)
	if err != nil {
		return nil, 0, err
	}
	for path, value := range m.runtimeSecrets {
		secrets[path] = value
	}
	if len(secrets) > 0 {
		restored, err := schema.ReinjectSecrets(tree, secrets)
		if err != nil {
			return nil, 0, errors.Wrap(err, "VersionedManager", "Fetch", "secret reinjection failed")
		}
		if restoredTree, ok := restored.(map[string]any); ok {
			tree = restoredTree
		}
	}
	return tree, rec.Version, nil
}

func (m *VersionedManager) fetchSecrets(ctx context.Context) (map[string]string, error) {
	rec, err := m.store.FetchLatest(ctx, store.TypeSecrets)
	if errors.Is(err, errors.ErrConfigNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "VersionedManager", "fetchSecrets", "secrets row fetch failed")
	}
	var secrets map[string]string
	if err := json.Unmarshal(rec.JSON, &secrets); err != nil {
		return nil, errors.WrapFatal(err, "VersionedManager", "fetchSecrets", "stored secrets are not valid JSON")
	}
	if secrets == nil {
		secrets = map[string]string{}
	}
	return secrets, nil
}

// ExtractSecrets runs the secret extractor over every module and merges
// in runtime-supplied secrets, which take priority. The returned tree is
// redacted and safe to persist.
func (m *VersionedManager) ExtractSecrets() (map[string]any, map[string]string) {
	configs := make(map[string]any, len(m.order))
	secrets := make(map[string]string)
	for _, key := range m.order {
		mod := m.modules[key]
		ext := schema.ExtractSecrets(mod.Config(), mod.Schema())
		configs[string(key)] = ext.Tree
		for path, value := range ext.Secrets {
			secrets[string(key)+"."+path] = value
		}
	}
	for path, value := range m.runtimeSecrets {
		secrets[path] = value
	}
	return configs, secrets
}

// Save persists the current in-memory configuration. The central conflict
// resolution routine: a missing config row becomes a first-time insert, a
// version mismatch becomes a backup plus a new config row, and an in-place
// edit becomes a validated diff row plus an update. Any failure other than
// the recovered not-found rolls every module back to the stable snapshot
// before the error is returned.
func (m *VersionedManager) Save(ctx context.Context) error {
	if err := m.doSave(ctx); err != nil {
		m.metrics.saved(saveOutcomeError)
		m.rollback()
		return err
	}

	// re-apply the final configs so modules whose serialized form is
	// derived from persisted state stay consistent, then promote the
	// result to the new stable snapshot
	configs, secrets := m.ExtractSecrets()
	full, err := schema.ReinjectSecrets(configs, secrets)
	if err == nil {
		if tree, ok := full.(map[string]any); ok {
			if err := m.SetConfigs(tree); err != nil {
				return err
			}
		}
	}
	m.stable = m.Configs()
	return nil
}

func (m *VersionedManager) doSave(ctx context.Context) error {
	configs, secrets := m.ExtractSecrets()
	if err := m.bus.Emit(ctx, eventbus.NewEvent(eventbus.EventSecretsExtracted, map[string]any{
		"count": len(secrets),
	})); err != nil {
		m.logger.Warn("secrets event emit failed", "error", err)
	}

	newJSON, err := json.Marshal(configs)
	if err != nil {
		return errors.WrapFatal(err, "VersionedManager", "Save", "config marshal failed")
	}
	// runtime-supplied secrets are owned by the environment and never
	// written to the store
	persisted := make(map[string]string, len(secrets))
	for path, value := range secrets {
		if _, runtime := m.runtimeSecrets[path]; runtime {
			continue
		}
		persisted[path] = value
	}
	secretsJSON, err := json.Marshal(persisted)
	if err != nil {
		return errors.WrapFatal(err, "VersionedManager", "Save", "secrets marshal failed")
	}

	rec, err := m.store.FetchLatest(ctx, store.TypeConfig)
	if errors.Is(err, errors.ErrConfigNotFound) {
		// fresh install: nothing to diff against, insert and stop
		if _, err := m.store.Insert(ctx, store.ConfigRecord{
			Type:    store.TypeConfig,
			Version: m.version,
			JSON:    newJSON,
		}); err != nil {
			return errors.WrapTransient(err, "VersionedManager", "Save", "first config insert failed")
		}
		m.metrics.saved(saveOutcomeInsert)
		m.logger.Info("initial configuration saved", "version", m.version)
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "VersionedManager", "Save", "config row fetch failed")
	}

	if rec.Version != m.version {
		// a migration or explicit bump happened: keep the superseded
		// config as a backup; the secrets row is tagged with the old
		// version, aligning with the backup
		if err := m.store.InsertMany(ctx, []store.ConfigRecord{
			{Type: store.TypeBackup, Version: rec.Version, JSON: rec.JSON},
			{Type: store.TypeConfig, Version: m.version, JSON: newJSON},
			{Type: store.TypeSecrets, Version: rec.Version, JSON: secretsJSON},
		}); err != nil {
			return errors.WrapTransient(err, "VersionedManager", "Save", "version bump insert failed")
		}
		m.metrics.saved(saveOutcomeConflict)
		m.logger.Info("configuration version bumped",
			"from_version", rec.Version, "to_version", m.version)
		return nil
	}

	var storedTree map[string]any
	if err := json.Unmarshal(rec.JSON, &storedTree); err != nil {
		return errors.WrapFatal(err, "VersionedManager", "Save", "stored config is not valid JSON")
	}
	entries := diff.Diff(storedTree, diff.Clone(configs))
	if len(entries) == 0 {
		// secret-typed values are blanked on both sides of the diff, so a
		// secret-only change leaves it empty; compare the extracted secrets
		// against the stored row before declaring a no-op
		stored, err := m.fetchSecrets(ctx)
		if err != nil {
			return err
		}
		if maps.Equal(stored, persisted) {
			m.metrics.saved(saveOutcomeNoop)
			return nil
		}
		if err := m.upsertSecrets(ctx, secretsJSON); err != nil {
			return err
		}
		m.metrics.saved(saveOutcomeDiff)
		m.logger.Info("secrets updated", "version", m.version)
		return nil
	}
	if err := m.validateDiff(entries); err != nil {
		return err
	}

	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return errors.WrapFatal(err, "VersionedManager", "Save", "diff marshal failed")
	}
	if _, err := m.store.Insert(ctx, store.ConfigRecord{
		Type:    store.TypeDiff,
		Version: m.version,
		JSON:    entriesJSON,
	}); err != nil {
		return errors.WrapTransient(err, "VersionedManager", "Save", "diff insert failed")
	}
	if err := m.store.UpdateByID(ctx, rec.ID, newJSON); err != nil {
		return errors.WrapTransient(err, "VersionedManager", "Save", "config update failed")
	}
	if err := m.upsertSecrets(ctx, secretsJSON); err != nil {
		return err
	}
	m.metrics.saved(saveOutcomeDiff)
	m.logger.Info("configuration saved", "version", m.version, "changes", len(entries))
	return nil
}

// upsertSecrets updates the secrets row for the current version in place,
// inserting one when this version has none yet.
func (m *VersionedManager) upsertSecrets(ctx context.Context, secretsJSON []byte) error {
	rec, err := m.store.FetchLatest(ctx, store.TypeSecrets)
	if errors.Is(err, errors.ErrConfigNotFound) || (err == nil && rec.Version != m.version) {
		if _, err := m.store.Insert(ctx, store.ConfigRecord{
			Type:    store.TypeSecrets,
			Version: m.version,
			JSON:    secretsJSON,
		}); err != nil {
			return errors.WrapTransient(err, "VersionedManager", "Save", "secrets insert failed")
		}
		return nil
	}
	if err != nil {
		return errors.WrapTransient(err, "VersionedManager", "Save", "secrets row fetch failed")
	}
	if err := m.store.UpdateByID(ctx, rec.ID, secretsJSON); err != nil {
		return errors.WrapTransient(err, "VersionedManager", "Save", "secrets update failed")
	}
	return nil
}

// validateDiff groups entries by their top-level module key and gives each
// affected module a veto. An entry referencing an unknown module signals a
// corrupted store or mismatched build and is fatal.
func (m *VersionedManager) validateDiff(entries []diff.Entry) error {
	groups := make(map[string][]diff.Entry)
	for _, e := range entries {
		moduleKey := e.P.Key()
		if moduleKey == "" {
			return errors.WrapInvalid(
				fmt.Errorf("entry path %v has no module key", e.P),
				"VersionedManager", "validateDiff", "malformed diff entry")
		}
		groups[moduleKey] = append(groups[moduleKey], e)
	}

	for moduleKey, group := range groups {
		mod, ok := m.modules[Key(moduleKey)]
		if !ok {
			return fmt.Errorf("%w: diff references %q", errors.ErrUnregisteredModule, moduleKey)
		}

		current := m.stableModuleConfig(Key(moduleKey), mod)
		rebased := make([]diff.Entry, len(group))
		for i, e := range group {
			rebased[i] = diff.Entry{T: e.T, P: e.P[1:], O: e.O, N: e.N}
		}
		applied, err := diff.Apply(current, rebased)
		if err != nil {
			return errors.WrapInvalid(err, "VersionedManager", "validateDiff",
				"reconstructing proposed config for "+moduleKey+" failed")
		}
		proposed, _ := applied.(map[string]any)

		if err := mod.OnBeforeUpdate(current, proposed); err != nil {
			return fmt.Errorf("%w: %q: %v", errors.ErrValidationVeto, moduleKey, err)
		}
	}
	return nil
}

// stableModuleConfig is the baseline diff validation reconstructs from:
// the stable snapshot, or the module's live config before the first
// successful cycle.
func (m *VersionedManager) stableModuleConfig(key Key, mod Module) map[string]any {
	if m.stable != nil {
		if sub, ok := m.stable[string(key)].(map[string]any); ok {
			return cloneTree(sub)
		}
	}
	return mod.Config()
}

// rollback restores every module to the last stable snapshot. Best effort:
// with no snapshot yet there is nothing to restore to.
func (m *VersionedManager) rollback() {
	if m.stable == nil {
		m.logger.Warn("rollback requested but no stable snapshot exists")
		return
	}
	if err := m.SetConfigs(m.stable); err != nil {
		m.logger.Error("rollback to stable snapshot failed", "error", err)
		return
	}
	m.metrics.rolledBack()
	m.logger.Info("rolled back to stable snapshot")
}

// Migrate walks the migration chain forward from the given version.
func (m *VersionedManager) Migrate(ctx context.Context, from int, tree map[string]any) (int, map[string]any, error) {
	version, migrated, err := m.chain.Run(ctx, from, tree, MigrationEnv{DB: m.db, Logger: m.logger})
	if err != nil {
		return 0, nil, err
	}
	if version != from {
		m.metrics.migrated()
	}
	return version, migrated, nil
}

// BootOptions controls a versioned Build.
type BootOptions struct {
	// ForceFetch re-reads the store even when a version is already set.
	ForceFetch bool
}

// Build boots the manager: fetch or bootstrap, migrate forward when the
// stored version is behind, then run the module build pass.
func (m *VersionedManager) Build(ctx context.Context, opts BootOptions) error {
	target := m.chain.Latest()

	if m.provided {
		// provided configuration is assumed current; never migrated
		if m.version != target {
			return errors.WrapFatal(
				fmt.Errorf("%w: provided version %d, target %d", errors.ErrVersionMismatch, m.version, target),
				"VersionedManager", "Build", "provided configuration is stale")
		}
		if err := m.BuildModules(ctx, BuildOptions{Graceful: !opts.ForceFetch}); err != nil {
			return err
		}
		m.stable = m.Configs()
		m.metrics.setVersion(m.version)
		return nil
	}

	if m.version != 0 && !opts.ForceFetch {
		return m.BuildModules(ctx, BuildOptions{Graceful: true})
	}

	tree, storedVersion, err := m.Fetch(ctx)
	if errors.Is(err, errors.ErrConfigNotFound) {
		return m.setupInitial(ctx)
	}
	if err != nil {
		return err
	}

	switch {
	case storedVersion < target:
		newVersion, migrated, err := m.Migrate(ctx, storedVersion, tree)
		if err != nil {
			return err
		}
		m.version = newVersion
		if err := m.SetConfigs(migrated); err != nil {
			return err
		}
		if err := m.BuildModules(ctx, BuildOptions{ForceSync: true}); err != nil {
			return err
		}
		if err := m.Save(ctx); err != nil {
			return err
		}
	case storedVersion > target:
		return errors.WrapFatal(
			fmt.Errorf("%w: stored version %d is ahead of target %d", errors.ErrVersionMismatch, storedVersion, target),
			"VersionedManager", "Build", "store written by a newer build")
	default:
		m.version = storedVersion
		if err := m.SetConfigs(tree); err != nil {
			return err
		}
		if err := m.BuildModules(ctx, BuildOptions{}); err != nil {
			return err
		}
		m.stable = m.Configs()
	}
	m.metrics.setVersion(m.version)
	return nil
}

// setupInitial bootstraps a fresh store: assign the target version, ensure
// the table exists, build, persist, seed against an event-suppressed fork,
// sync the entity schema, and announce the first boot.
func (m *VersionedManager) setupInitial(ctx context.Context) error {
	m.version = m.chain.Latest()
	m.logger.Info("fresh install, bootstrapping", "version", m.version)

	if err := m.store.Sync(ctx, false); err != nil {
		return errors.WrapTransient(err, "VersionedManager", "setupInitial", "store sync failed")
	}
	if err := m.BuildModules(ctx, BuildOptions{}); err != nil {
		return err
	}
	if err := m.Save(ctx); err != nil {
		return err
	}

	if m.seed != nil {
		forked := m.rc.Fork(WithForkBus(eventbus.NewNopBus()))
		if err := m.seed(ctx, forked); err != nil {
			return errors.Wrap(err, "VersionedManager", "setupInitial", "seed callback failed")
		}
	}
	if m.rc.Entities != nil {
		if _, err := m.rc.Entities.Schema().Sync(ctx, entity.SyncOptions{}); err != nil {
			return errors.Wrap(err, "VersionedManager", "setupInitial", "entity schema sync failed")
		}
	}

	if err := m.bus.Emit(ctx, eventbus.NewEvent(eventbus.EventFirstBoot, map[string]any{
		"version": m.version,
	})); err != nil {
		m.logger.Warn("first boot event emit failed", "error", err)
	}
	m.metrics.setVersion(m.version)
	return nil
}
