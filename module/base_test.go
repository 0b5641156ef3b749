package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bknderrors "github.com/bknd-io/bknd/errors"
	"github.com/bknd-io/bknd/schema"
)

func testBase(t *testing.T) *Base {
	t.Helper()
	s := schema.Schema{
		Properties: map[string]schema.Property{
			"name":  {Type: "string", Default: "app"},
			"limit": {Type: "int", Default: 10, Minimum: intp(0)},
			"opts": {Type: "object", Properties: map[string]schema.Property{
				"verbose": {Type: "bool", Default: false},
			}},
		},
	}
	return NewBase(KeyServer, s, nil)
}

func TestBaseDefaults(t *testing.T) {
	b := testBase(t)
	cfg := b.Config()
	assert.Equal(t, "app", cfg["name"])
}

func TestBaseSet(t *testing.T) {
	b := testBase(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "name", "renamed", nil))
	assert.Equal(t, "renamed", b.Config()["name"])

	require.NoError(t, b.Set(ctx, "opts.verbose", true, nil))
	assert.Equal(t, true, b.Config()["opts"].(map[string]any)["verbose"])

	// intermediate objects are created
	require.NoError(t, b.Set(ctx, "extra.deep.key", "v", nil))
	assert.Equal(t, "v",
		b.Config()["extra"].(map[string]any)["deep"].(map[string]any)["key"])
}

func TestBaseSetSchemaRejection(t *testing.T) {
	b := testBase(t)

	err := b.Set(context.Background(), "limit", -1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, bknderrors.ErrSchemaRejected)
	assert.Equal(t, float64(10), b.Config()["limit"], "rejected change must not land")
}

func TestBasePatch(t *testing.T) {
	b := testBase(t)

	got, err := b.Patch(context.Background(), "opts", map[string]any{"verbose": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, got["verbose"])
	assert.Equal(t, true, b.Config()["opts"].(map[string]any)["verbose"])

	// root patch merges without dropping siblings
	_, err = b.Patch(context.Background(), "", map[string]any{"name": "patched"}, nil)
	require.NoError(t, err)
	cfg := b.Config()
	assert.Equal(t, "patched", cfg["name"])
	assert.Equal(t, float64(10), cfg["limit"])
}

func TestBaseOverwrite(t *testing.T) {
	b := testBase(t)

	err := b.Overwrite(context.Background(), map[string]any{"name": "only"}, nil)
	require.NoError(t, err)
	cfg := b.Config()
	assert.Equal(t, "only", cfg["name"])
	_, hasLimit := cfg["limit"]
	assert.False(t, hasLimit, "overwrite replaces the whole tree")
}

func TestBaseRemove(t *testing.T) {
	b := testBase(t)

	require.NoError(t, b.Remove(context.Background(), "limit", nil))
	_, ok := b.Config()["limit"]
	assert.False(t, ok)
}

func TestBaseChangeCallbackFailureReverts(t *testing.T) {
	b := testBase(t)
	boom := bknderrors.New("rebuild failed")

	var seen map[string]any
	err := b.Set(context.Background(), "name", "changed", func(_ context.Context, key Key, cfg map[string]any) error {
		assert.Equal(t, KeyServer, key)
		seen = cfg
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "changed", seen["name"], "callback sees the applied config")
	assert.Equal(t, "app", b.Config()["name"], "failed callback restores the previous config")
}

func TestBaseToJSONRedactsSecrets(t *testing.T) {
	s := schema.Schema{
		Properties: map[string]schema.Property{
			"token": {Type: "string", Secret: true},
			"name":  {Type: "string"},
		},
	}
	b := NewBase(KeyAuth, s, nil)
	require.NoError(t, b.SetConfig(map[string]any{"token": "sssh", "name": "x"}))

	redacted, err := b.ToJSON(false)
	require.NoError(t, err)
	assert.Equal(t, "", redacted["token"])
	assert.Equal(t, "x", redacted["name"])

	full, err := b.ToJSON(true)
	require.NoError(t, err)
	assert.Equal(t, "sssh", full["token"])
}
