package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bknderrors "github.com/bknd-io/bknd/errors"
)

func intPtr(v int) *int { return &v }

func testSchema() Schema {
	return Schema{
		Properties: map[string]Property{
			"host": {Type: "string", Default: "localhost"},
			"port": {Type: "int", Default: 8080, Minimum: intPtr(1), Maximum: intPtr(65535)},
			"mode": {Type: "string", Enum: []string{"strict", "lenient"}, Default: "strict"},
			"cors": {
				Type: "object",
				Properties: map[string]Property{
					"enabled": {Type: "bool", Default: false},
					"origin":  {Type: "string", Default: "*"},
				},
			},
			"tags": {Type: "array", Items: &Property{Type: "string"}},
		},
	}
}

func TestDefaults(t *testing.T) {
	got := testSchema().Defaults()

	assert.Equal(t, "localhost", got["host"])
	assert.Equal(t, 8080, got["port"])
	assert.Equal(t, "strict", got["mode"])

	cors, ok := got["cors"].(map[string]any)
	require.True(t, ok, "nested object defaults should materialize")
	assert.Equal(t, false, cors["enabled"])
	assert.Equal(t, "*", cors["origin"])

	_, hasTags := got["tags"]
	assert.False(t, hasTags, "array without default contributes nothing")
}

func TestDefaultsEmptySchema(t *testing.T) {
	got := Schema{}.Defaults()
	assert.Empty(t, got)
}

func TestValidate(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name    string
		tree    any
		wantErr bool
	}{
		{
			name: "valid tree",
			tree: map[string]any{"host": "example.com", "port": 9090, "mode": "lenient"},
		},
		{
			name: "unknown fields allowed",
			tree: map[string]any{"host": "x", "extra": true},
		},
		{
			name:    "wrong type",
			tree:    map[string]any{"port": "not-a-number"},
			wantErr: true,
		},
		{
			name:    "enum violation",
			tree:    map[string]any{"mode": "chaotic"},
			wantErr: true,
		},
		{
			name:    "minimum violation",
			tree:    map[string]any{"port": 0},
			wantErr: true,
		},
		{
			name:    "nested type violation",
			tree:    map[string]any{"cors": map[string]any{"enabled": "yes"}},
			wantErr: true,
		},
		{
			name:    "array element violation",
			tree:    map[string]any{"tags": []any{"ok", 42}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.tree)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, bknderrors.ErrSchemaRejected)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateRequired(t *testing.T) {
	s := Schema{
		Properties: map[string]Property{
			"name": {Type: "string"},
		},
		Required: []string{"name"},
	}

	err := s.Validate(map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, bknderrors.ErrSchemaRejected)

	assert.NoError(t, s.Validate(map[string]any{"name": "ok"}))
}

func TestJSONSchemaTypeMapping(t *testing.T) {
	doc := Schema{
		Properties: map[string]Property{
			"count": {Type: "int"},
			"ratio": {Type: "float"},
			"on":    {Type: "bool"},
			"label": {Type: "string"},
		},
	}.JSONSchema()

	props := doc["properties"].(map[string]any)
	assert.Equal(t, "integer", props["count"].(map[string]any)["type"])
	assert.Equal(t, "number", props["ratio"].(map[string]any)["type"])
	assert.Equal(t, "boolean", props["on"].(map[string]any)["type"])
	assert.Equal(t, "string", props["label"].(map[string]any)["type"])
}
