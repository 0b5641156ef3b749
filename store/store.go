// Package store persists configuration history. A single append-heavy
// table holds typed rows: the current configuration, diffs describing each
// change, pre-migration backups, and extracted secrets. Rows are never
// deleted; the highest version of a type wins.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// RecordType discriminates the rows of the configuration table.
type RecordType string

const (
	// TypeConfig rows hold a full redacted configuration tree.
	TypeConfig RecordType = "config"
	// TypeDiff rows hold the change set that produced a config version.
	TypeDiff RecordType = "diff"
	// TypeBackup rows hold a full configuration snapshot taken before a
	// migration or a conflicting save overwrote it.
	TypeBackup RecordType = "backup"
	// TypeSecrets rows hold the flat path-to-value map extracted from a
	// configuration tree before it was persisted.
	TypeSecrets RecordType = "secrets"
)

// ConfigRecord is one row of the configuration table.
type ConfigRecord struct {
	ID        int64           `json:"id"`
	Type      RecordType      `json:"type"`
	Version   int             `json:"version"`
	JSON      json.RawMessage `json:"json"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the persistence boundary of the configuration engine.
// Implementations must order FetchLatest by version descending and must
// never delete rows.
type Store interface {
	// FetchLatest returns the highest-versioned row among the given types.
	// errors.ErrConfigNotFound is returned when no such row exists.
	FetchLatest(ctx context.Context, types ...RecordType) (ConfigRecord, error)

	// Insert appends one row and returns it with ID and timestamps set.
	Insert(ctx context.Context, rec ConfigRecord) (ConfigRecord, error)

	// InsertMany appends rows atomically: either all land or none do.
	InsertMany(ctx context.Context, recs []ConfigRecord) error

	// UpdateByID replaces the JSON payload of an existing row in place.
	// Only config rows are ever updated; history rows are immutable.
	UpdateByID(ctx context.Context, id int64, payload json.RawMessage) error

	// Sync ensures the backing table exists. With force set, existing
	// rows are dropped first.
	Sync(ctx context.Context, force bool) error

	// Close releases the underlying resources.
	Close() error
}
