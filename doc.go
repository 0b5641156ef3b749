// Package bknd is a pluggable application runtime whose behavior is driven
// entirely by a declarative configuration tree, one sub-tree per functional
// module (server, data, auth, media, workflow).
//
// # Architecture
//
// The repository is organized around the configuration lifecycle engine:
//
//   - schema: configuration schemas, defaults, validation, and secret
//     extraction. Every module declares a Schema describing its sub-tree;
//     secret-typed properties are stripped from the persisted tree and kept
//     in a separate flat map.
//
//   - diff: structural diffing between configuration trees. A diff is an
//     ordered list of add/remove/edit entries that fully describes the
//     transformation from one tree to another and can be re-applied to
//     reconstruct it.
//
//   - store: versioned persistence over a single table of typed rows
//     (config, diff, backup, secrets). Rows are only ever inserted or
//     updated, never deleted, so the table doubles as an audit trail.
//
//   - module: the lifecycle engine itself. Manager owns module instances
//     and the shared runtime context and runs the dependency-ordered build
//     loop; VersionedManager adds version tracking, persistence with
//     optimistic-concurrency conflict resolution, forward migration, and
//     safe single-module mutation with automatic rollback.
//
//   - eventbus: lightweight event distribution (in-process or NATS-backed)
//     used to announce lifecycle events such as config updates and first
//     boot.
//
//   - entity: the narrow contract to the external entity/schema layer. The
//     engine only ever calls Schema().Sync() and Schema().Introspect();
//     everything else about the ORM is out of scope here.
//
// # Lifecycle
//
// A manager is constructed from optional initial configuration, instantiates
// one module per key, and builds them in declared dependency order
// (server, data, auth, media, workflow). Each build returns a BuildResult
// whose flags may request a schema sync or a context rebuild. In the
// persistent variant a successful build triggers a save, which diffs the
// in-memory tree against the stored one, resolves version conflicts, splits
// secrets out, and writes rows back to the store. Any failure after a
// successful persist rolls the in-memory modules back to the last stable
// snapshot, so callers observe either full success or the previous state.
package bknd
