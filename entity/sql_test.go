package entity

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "entities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func todosDef() Definition {
	return Definition{
		Name: "todos",
		Fields: []Field{
			{Name: "id", Type: "int", Primary: true},
			{Name: "title", Type: "string", Required: true},
			{Name: "done", Type: "bool"},
		},
	}
}

func TestSyncCreatesTables(t *testing.T) {
	ctx := context.Background()
	m := NewSQLManager(openTestDB(t), []Definition{todosDef()})

	cs, err := m.Schema().Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, cs.CreatedTables)
	assert.False(t, cs.Empty())

	tables, err := m.Schema().Introspect(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "todos", tables[0].Name)
	assert.Len(t, tables[0].Columns, 3)
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewSQLManager(openTestDB(t), []Definition{todosDef()})

	_, err := m.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	cs, err := m.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.True(t, cs.Empty())
}

func TestSyncAddsColumns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	m := NewSQLManager(db, []Definition{todosDef()})
	_, err := m.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	def := todosDef()
	def.Fields = append(def.Fields, Field{Name: "due", Type: "date"})
	m = NewSQLManager(db, []Definition{def})

	cs, err := m.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, cs.AlteredTables)

	tables, err := m.Introspect(ctx)
	require.NoError(t, err)
	assert.Len(t, tables[0].Columns, 4)
}

func TestSyncSurplusColumnNeedsForce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	m := NewSQLManager(db, []Definition{todosDef()})
	_, err := m.Sync(ctx, SyncOptions{})
	require.NoError(t, err)

	def := todosDef()
	def.Fields = def.Fields[:2] // drop "done"
	m = NewSQLManager(db, []Definition{def})

	cs, err := m.Sync(ctx, SyncOptions{})
	require.NoError(t, err)
	assert.True(t, cs.Empty(), "surplus column without force changes nothing")

	cs, err = m.Sync(ctx, SyncOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, cs.AlteredTables)

	tables, err := m.Introspect(ctx)
	require.NoError(t, err)
	assert.Len(t, tables[0].Columns, 2)
}

func TestSyncDryRun(t *testing.T) {
	ctx := context.Background()
	m := NewSQLManager(openTestDB(t), []Definition{todosDef()})

	cs, err := m.Sync(ctx, SyncOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"todos"}, cs.CreatedTables)

	tables, err := m.Introspect(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables, "dry run must not create tables")
}
