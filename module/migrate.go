package module

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/bknd-io/bknd/errors"
)

// MigrationEnv carries the resources migration steps may use.
type MigrationEnv struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// MigrationStep transforms a configuration tree from version To-1 to
// version To. The engine only defines how steps are sequenced; the
// transformations themselves belong to the embedding application.
type MigrationStep struct {
	To int
	Up func(ctx context.Context, tree map[string]any, env MigrationEnv) (map[string]any, error)
}

// Chain is the ordered migration chain. Steps must form a gapless,
// strictly ascending walk; the last step's To is the engine's target
// version.
type Chain struct {
	base  int
	steps []MigrationStep
}

// NewChain builds a chain starting at base version. Steps must be
// consecutive: base+1, base+2, and so on.
func NewChain(base int, steps ...MigrationStep) (*Chain, error) {
	if base < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("base version %d", base),
			"Chain", "NewChain", "base version must be at least 1")
	}
	expect := base + 1
	for _, step := range steps {
		if step.Up == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("step to version %d has no Up func", step.To),
				"Chain", "NewChain", "invalid step")
		}
		if step.To != expect {
			return nil, errors.WrapInvalid(
				fmt.Errorf("step to version %d, expected %d", step.To, expect),
				"Chain", "NewChain", "steps must be consecutive")
		}
		expect++
	}
	return &Chain{base: base, steps: steps}, nil
}

// Latest is the version the chain migrates to: the engine's target.
func (c *Chain) Latest() int {
	if len(c.steps) == 0 {
		return c.base
	}
	return c.steps[len(c.steps)-1].To
}

// Run walks the chain from the given version to the latest, applying each
// step in order with no skipping. A from version below the chain's base
// is unreachable and rejected.
func (c *Chain) Run(ctx context.Context, from int, tree map[string]any, env MigrationEnv) (int, map[string]any, error) {
	if from >= c.Latest() {
		return from, tree, nil
	}
	if from < c.base {
		return 0, nil, errors.WrapFatal(
			fmt.Errorf("version %d predates chain base %d", from, c.base),
			"Chain", "Run", "no migration path")
	}
	current := tree
	version := from
	for _, step := range c.steps {
		if step.To <= version {
			continue
		}
		next, err := step.Up(ctx, current, env)
		if err != nil {
			return 0, nil, errors.Wrap(err,
				"Chain", "Run", fmt.Sprintf("migration to version %d failed", step.To))
		}
		current = next
		version = step.To
		if env.Logger != nil {
			env.Logger.Info("migrated configuration", "to_version", version)
		}
	}
	return version, current, nil
}
