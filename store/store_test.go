package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bknderrors "github.com/bknd-io/bknd/errors"
)

// newStores builds one instance of every Store implementation so the same
// behavioral checks run against each.
func newStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqlite, err := NewSQLiteStore(ctx, SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "configs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreEmptyFetch(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Sync(ctx, false))

			_, err := s.FetchLatest(ctx, TypeConfig)
			assert.ErrorIs(t, err, bknderrors.ErrConfigNotFound)
		})
	}
}

func TestStoreInsertAndFetchLatest(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Sync(ctx, false))

			for v := 1; v <= 3; v++ {
				payload, _ := json.Marshal(map[string]any{"version": v})
				rec, err := s.Insert(ctx, ConfigRecord{
					Type:    TypeConfig,
					Version: v,
					JSON:    payload,
				})
				require.NoError(t, err)
				assert.NotZero(t, rec.ID)
				assert.False(t, rec.CreatedAt.IsZero())
			}

			got, err := s.FetchLatest(ctx, TypeConfig)
			require.NoError(t, err)
			assert.Equal(t, 3, got.Version)
			assert.Equal(t, TypeConfig, got.Type)
			assert.JSONEq(t, `{"version":3}`, string(got.JSON))
		})
	}
}

func TestStoreFetchLatestFiltersByType(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Sync(ctx, false))

			_, err := s.Insert(ctx, ConfigRecord{Type: TypeConfig, Version: 2, JSON: json.RawMessage(`{}`)})
			require.NoError(t, err)
			_, err = s.Insert(ctx, ConfigRecord{Type: TypeBackup, Version: 9, JSON: json.RawMessage(`{}`)})
			require.NoError(t, err)
			_, err = s.Insert(ctx, ConfigRecord{Type: TypeSecrets, Version: 2, JSON: json.RawMessage(`{"a.b":"x"}`)})
			require.NoError(t, err)

			got, err := s.FetchLatest(ctx, TypeConfig)
			require.NoError(t, err)
			assert.Equal(t, TypeConfig, got.Type)
			assert.Equal(t, 2, got.Version)

			got, err = s.FetchLatest(ctx, TypeSecrets)
			require.NoError(t, err)
			assert.Equal(t, TypeSecrets, got.Type)

			// no filter: the backup row has the highest version overall
			got, err = s.FetchLatest(ctx)
			require.NoError(t, err)
			assert.Equal(t, TypeBackup, got.Type)
			assert.Equal(t, 9, got.Version)
		})
	}
}

func TestStoreInsertMany(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Sync(ctx, false))

			err := s.InsertMany(ctx, []ConfigRecord{
				{Type: TypeConfig, Version: 5, JSON: json.RawMessage(`{"v":5}`)},
				{Type: TypeDiff, Version: 5, JSON: json.RawMessage(`[]`)},
				{Type: TypeSecrets, Version: 5, JSON: json.RawMessage(`{}`)},
			})
			require.NoError(t, err)

			got, err := s.FetchLatest(ctx, TypeConfig)
			require.NoError(t, err)
			assert.Equal(t, 5, got.Version)

			got, err = s.FetchLatest(ctx, TypeDiff)
			require.NoError(t, err)
			assert.Equal(t, 5, got.Version)
		})
	}
}

func TestStoreUpdateByID(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Sync(ctx, false))

			rec, err := s.Insert(ctx, ConfigRecord{Type: TypeConfig, Version: 1, JSON: json.RawMessage(`{"a":1}`)})
			require.NoError(t, err)

			require.NoError(t, s.UpdateByID(ctx, rec.ID, json.RawMessage(`{"a":2}`)))

			got, err := s.FetchLatest(ctx, TypeConfig)
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(got.JSON))
			assert.Equal(t, 1, got.Version, "update must not bump the version")

			err = s.UpdateByID(ctx, 99999, json.RawMessage(`{}`))
			assert.ErrorIs(t, err, bknderrors.ErrRecordNotFound)
		})
	}
}

func TestStoreSyncForceDropsRows(t *testing.T) {
	ctx := context.Background()
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Sync(ctx, false))

			_, err := s.Insert(ctx, ConfigRecord{Type: TypeConfig, Version: 1, JSON: json.RawMessage(`{}`)})
			require.NoError(t, err)

			require.NoError(t, s.Sync(ctx, true))

			_, err = s.FetchLatest(ctx, TypeConfig)
			assert.ErrorIs(t, err, bknderrors.ErrConfigNotFound)
		})
	}
}

func TestMemoryStoreRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Sync(ctx, false))

	payload := json.RawMessage(`{"a":1}`)
	_, err := s.Insert(ctx, ConfigRecord{Type: TypeConfig, Version: 1, JSON: payload})
	require.NoError(t, err)

	payload[5] = '9'

	got, err := s.FetchLatest(ctx, TypeConfig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.JSON))
}
