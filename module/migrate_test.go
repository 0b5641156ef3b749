package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passThrough(_ context.Context, tree map[string]any, _ MigrationEnv) (map[string]any, error) {
	return tree, nil
}

func TestNewChainValidation(t *testing.T) {
	tests := []struct {
		name    string
		base    int
		steps   []MigrationStep
		wantErr bool
	}{
		{name: "empty chain", base: 1},
		{
			name: "consecutive steps",
			base: 1,
			steps: []MigrationStep{
				{To: 2, Up: passThrough},
				{To: 3, Up: passThrough},
			},
		},
		{
			name:    "gap in steps",
			base:    1,
			steps:   []MigrationStep{{To: 3, Up: passThrough}},
			wantErr: true,
		},
		{
			name: "nil up func",
			base: 1,
			steps: []MigrationStep{
				{To: 2},
			},
			wantErr: true,
		},
		{name: "zero base", base: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChain(tt.base, tt.steps...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestChainLatest(t *testing.T) {
	empty, err := NewChain(3)
	require.NoError(t, err)
	assert.Equal(t, 3, empty.Latest())

	chain, err := NewChain(1, MigrationStep{To: 2, Up: passThrough}, MigrationStep{To: 3, Up: passThrough})
	require.NoError(t, err)
	assert.Equal(t, 3, chain.Latest())
}

func TestChainRunAppliesInOrder(t *testing.T) {
	var applied []int
	step := func(to int) MigrationStep {
		return MigrationStep{To: to, Up: func(_ context.Context, tree map[string]any, _ MigrationEnv) (map[string]any, error) {
			applied = append(applied, to)
			tree["v"] = to
			return tree, nil
		}}
	}
	chain, err := NewChain(3, step(4), step(5))
	require.NoError(t, err)

	version, tree, err := chain.Run(context.Background(), 3, map[string]any{}, MigrationEnv{})
	require.NoError(t, err)

	assert.Equal(t, 5, version)
	assert.Equal(t, []int{4, 5}, applied, "version 4 must never be skipped")
	assert.Equal(t, 5, tree["v"])
}

func TestChainRunPartial(t *testing.T) {
	var applied []int
	step := func(to int) MigrationStep {
		return MigrationStep{To: to, Up: func(_ context.Context, tree map[string]any, _ MigrationEnv) (map[string]any, error) {
			applied = append(applied, to)
			return tree, nil
		}}
	}
	chain, err := NewChain(1, step(2), step(3), step(4))
	require.NoError(t, err)

	version, _, err := chain.Run(context.Background(), 3, map[string]any{}, MigrationEnv{})
	require.NoError(t, err)
	assert.Equal(t, 4, version)
	assert.Equal(t, []int{4}, applied, "steps at or below the current version are skipped")
}

func TestChainRunCurrentIsNoop(t *testing.T) {
	chain, err := NewChain(1, MigrationStep{To: 2, Up: passThrough})
	require.NoError(t, err)

	in := map[string]any{"k": "v"}
	version, out, err := chain.Run(context.Background(), 2, in, MigrationEnv{})
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, in, out)
}

func TestChainRunBelowBase(t *testing.T) {
	chain, err := NewChain(3, MigrationStep{To: 4, Up: passThrough})
	require.NoError(t, err)

	_, _, err = chain.Run(context.Background(), 1, map[string]any{}, MigrationEnv{})
	assert.Error(t, err)
}
