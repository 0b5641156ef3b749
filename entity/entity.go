// Package entity defines the boundary between the configuration engine and
// the data layer it drives. The engine only needs to trigger schema
// synchronization after a data configuration change and to introspect the
// resulting tables; the interfaces here keep it decoupled from any
// concrete ORM or query builder.
package entity

import "context"

// Manager owns the entity definitions derived from the data configuration.
type Manager interface {
	// Schema exposes schema synchronization and introspection.
	Schema() SchemaAPI
}

// SchemaAPI synchronizes entity definitions with the backing database.
type SchemaAPI interface {
	// Sync reconciles the database schema with the current entity
	// definitions and reports what changed.
	Sync(ctx context.Context, opts SyncOptions) (ChangeSet, error)

	// Introspect lists the tables currently present in the database.
	Introspect(ctx context.Context) ([]TableInfo, error)
}

// SyncOptions controls a schema synchronization run.
type SyncOptions struct {
	// Force applies destructive changes such as dropped columns.
	Force bool
	// DryRun computes the change set without touching the database.
	DryRun bool
}

// ChangeSet reports what a synchronization run changed or would change.
type ChangeSet struct {
	CreatedTables []string `json:"created_tables,omitempty"`
	AlteredTables []string `json:"altered_tables,omitempty"`
	DroppedTables []string `json:"dropped_tables,omitempty"`
}

// Empty reports whether the synchronization changed nothing.
func (c ChangeSet) Empty() bool {
	return len(c.CreatedTables) == 0 && len(c.AlteredTables) == 0 && len(c.DroppedTables) == 0
}

// TableInfo describes one introspected table.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one introspected column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Primary  bool   `json:"primary"`
}
