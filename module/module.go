// Package module implements the configuration lifecycle engine: module
// instances built in a fixed dependency order, versioned persistence with
// conflict resolution, secret separation, forward migration, and safe
// single-module mutation with rollback to the last stable snapshot.
package module

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/bknd-io/bknd/eventbus"
	"github.com/bknd-io/bknd/schema"
)

// Key identifies one functional module.
type Key string

const (
	KeyServer   Key = "server"
	KeyData     Key = "data"
	KeyAuth     Key = "auth"
	KeyMedia    Key = "media"
	KeyWorkflow Key = "workflow"
)

// BuildOrder is the fixed dependency order of a build pass. Later modules
// depend on what earlier ones registered: auth and media consume entities
// the data module created.
var BuildOrder = [...]Key{KeyServer, KeyData, KeyAuth, KeyMedia, KeyWorkflow}

// Valid reports whether the key names a known module.
func (k Key) Valid() bool {
	for _, known := range BuildOrder {
		if k == known {
			return true
		}
	}
	return false
}

func (k Key) String() string { return string(k) }

// BuildResult is what one module's Build reports back to the orchestrator.
// The manager aggregates results over the whole pass and reacts once.
type BuildResult struct {
	// SyncRequired asks for an entity schema sync after the pass.
	SyncRequired bool
	// CtxReloadRequired asks for a fresh runtime context after the pass.
	CtxReloadRequired bool
}

// Merge combines two results; a flag raised by any module stays raised.
func (r BuildResult) Merge(other BuildResult) BuildResult {
	return BuildResult{
		SyncRequired:      r.SyncRequired || other.SyncRequired,
		CtxReloadRequired: r.CtxReloadRequired || other.CtxReloadRequired,
	}
}

// ChangeFunc is invoked after a mutation method has applied and validated
// a new configuration. Passing nil skips change handling; the safe
// mutation facade passes a callback that rebuilds and persists.
type ChangeFunc func(ctx context.Context, key Key, cfg map[string]any) error

// MutationAPI is the restricted mutation surface of one module's
// configuration. Every method validates the result against the module
// schema before committing it and reverts on a failed change callback.
type MutationAPI interface {
	// Set writes a single value at a dotted path, creating intermediate
	// objects as needed.
	Set(ctx context.Context, path string, value any, onChange ChangeFunc) error

	// Patch deep-merges a partial tree into the value at a dotted path
	// and returns the resulting subtree.
	Patch(ctx context.Context, path string, value map[string]any, onChange ChangeFunc) (map[string]any, error)

	// Overwrite replaces the module's whole configuration tree.
	Overwrite(ctx context.Context, cfg map[string]any, onChange ChangeFunc) error

	// Remove deletes the value at a dotted path.
	Remove(ctx context.Context, path string, onChange ChangeFunc) error
}

// Module is one pluggable subsystem driven by its configuration sub-tree.
type Module interface {
	// Key returns the module's identity in the configuration tree.
	Key() Key

	// Build wires the module into the runtime context. Builds run
	// sequentially in BuildOrder; an error aborts the whole pass.
	Build(ctx context.Context, rc *Context) (BuildResult, error)

	// Schema describes the module's configuration sub-tree.
	Schema() schema.Schema

	// Mutate exposes the restricted mutation surface.
	Mutate() MutationAPI

	// Config returns a deep copy of the current configuration, secrets
	// included.
	Config() map[string]any

	// ToJSON serializes the current configuration. Without
	// includeSecrets, secret-typed values are blanked.
	ToJSON(includeSecrets bool) (map[string]any, error)

	// SetConfig replaces the configuration after schema validation.
	SetConfig(cfg map[string]any) error

	// OnBeforeUpdate may veto a proposed configuration change by
	// returning an error. Called during diff validation before any row
	// is written.
	OnBeforeUpdate(oldCfg, newCfg map[string]any) error
}

// Dependencies carries the collaborators a module factory may need.
type Dependencies struct {
	Logger  *slog.Logger
	DB      *sql.DB
	Bus     eventbus.Bus
	Metrics *Metrics
}
