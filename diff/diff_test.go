package diff

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestDiffIdentity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty object", `{}`},
		{"flat object", `{"a":1,"b":"x"}`},
		{"nested", `{"server":{"port":8080,"cors":{"origins":["*"]}}}`},
		{"array", `[1,2,3]`},
		{"null", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tree(t, tt.raw)
			assert.Empty(t, Diff(v, v))
			assert.Empty(t, Diff(v, Clone(v)))
		})
	}
}

func TestDiffApplyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{
			"scalar edit",
			`{"server":{"port":8080}}`,
			`{"server":{"port":9090}}`,
		},
		{
			"key added",
			`{"data":{"entities":{}}}`,
			`{"data":{"entities":{"todos":{"fields":{"title":{"type":"text"}}}}}}`,
		},
		{
			"key removed",
			`{"auth":{"enabled":true,"jwt":{"alg":"HS256"}}}`,
			`{"auth":{"enabled":true}}`,
		},
		{
			"type change object to scalar",
			`{"media":{"adapter":{"name":"s3"}}}`,
			`{"media":{"adapter":"local"}}`,
		},
		{
			"array grows",
			`{"server":{"origins":["a"]}}`,
			`{"server":{"origins":["a","b","c"]}}`,
		},
		{
			"array shrinks",
			`{"server":{"origins":["a","b","c"]}}`,
			`{"server":{"origins":["a"]}}`,
		},
		{
			"array element edited",
			`{"flows":[{"name":"f1","on":"create"}]}`,
			`{"flows":[{"name":"f1","on":"update"}]}`,
		},
		{
			"mixed add remove edit",
			`{"a":1,"b":{"x":true},"c":[1,2]}`,
			`{"a":2,"c":[1],"d":"new"}`,
		},
		{
			"whole tree replaced",
			`{"a":1}`,
			`[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldV := tree(t, tt.old)
			newV := tree(t, tt.new)

			entries := Diff(oldV, newV)
			require.NotEmpty(t, entries)

			result, err := Apply(oldV, entries)
			require.NoError(t, err)
			if d := cmp.Diff(newV, result); d != "" {
				t.Fatalf("Apply(Diff(a,b)) != b (-want +got):\n%s", d)
			}

			// The input must not have been mutated.
			if d := cmp.Diff(tree(t, tt.old), oldV); d != "" {
				t.Fatalf("Apply mutated its input (-want +got):\n%s", d)
			}
		})
	}
}

func TestDiffDeterministicOrder(t *testing.T) {
	oldV := tree(t, `{"b":1,"a":1,"c":1}`)
	newV := tree(t, `{"b":2,"a":2,"c":2}`)

	first := Diff(oldV, newV)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Diff(oldV, newV))
	}

	// Keys surface in sorted order.
	require.Len(t, first, 3)
	assert.Equal(t, "a", first[0].P.Key())
	assert.Equal(t, "b", first[1].P.Key())
	assert.Equal(t, "c", first[2].P.Key())
}

func TestDiffWireFormat(t *testing.T) {
	oldV := tree(t, `{"auth":{"enabled":false}}`)
	newV := tree(t, `{"auth":{"enabled":true}}`)

	entries := Diff(oldV, newV)
	require.Len(t, entries, 1)

	data, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"t":"e","p":["auth","enabled"],"o":false,"n":true}]`, string(data))
}

func TestApplySurvivesJSONRoundTrip(t *testing.T) {
	// Diff rows come back from the store with float64 path indices.
	oldV := tree(t, `{"origins":["a","b"]}`)
	newV := tree(t, `{"origins":["a","z","c"]}`)

	entries := Diff(oldV, newV)
	data, err := json.Marshal(entries)
	require.NoError(t, err)

	var decoded []Entry
	require.NoError(t, json.Unmarshal(data, &decoded))

	result, err := Apply(oldV, decoded)
	require.NoError(t, err)
	if d := cmp.Diff(newV, result); d != "" {
		t.Fatalf("round-tripped diff did not apply (-want +got):\n%s", d)
	}
}

func TestApplyErrors(t *testing.T) {
	base := tree(t, `{"a":{"b":1}}`)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing intermediate", Entry{T: OpEdit, P: Path{"missing", "b"}, N: 2}},
		{"index on object", Entry{T: OpEdit, P: Path{"a", 0}, N: 2}},
		{"descend into scalar", Entry{T: OpEdit, P: Path{"a", "b", "c"}, N: 2}},
		{"remove out of range", Entry{T: OpRemove, P: Path{"a", 5}}},
		{"unknown op", Entry{T: Op("x"), P: Path{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(base, []Entry{tt.entry})
			assert.Error(t, err)
		})
	}
}

func TestCloneIsAliasFree(t *testing.T) {
	original := tree(t, `{"data":{"entities":{"todos":{}}},"tags":["a"]}`).(map[string]any)
	copied := Clone(original).(map[string]any)

	copied["data"].(map[string]any)["entities"].(map[string]any)["users"] = map[string]any{}
	copied["tags"] = append(copied["tags"].([]any), "b")

	assert.Len(t, original["data"].(map[string]any)["entities"], 1)
	assert.Len(t, original["tags"], 1)
}

func TestEqualNormalizesNumbers(t *testing.T) {
	// Go-built trees carry ints, store-decoded trees carry float64.
	assert.True(t, Equal(
		map[string]any{"port": 8080},
		map[string]any{"port": float64(8080)},
	))
	assert.False(t, Equal(
		map[string]any{"port": 8080},
		map[string]any{"port": 8081},
	))
}
