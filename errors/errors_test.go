package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"version mismatch is fatal", ErrVersionMismatch, ErrorFatal},
		{"unregistered module is fatal", ErrUnregisteredModule, ErrorFatal},
		{"validation veto is invalid", ErrValidationVeto, ErrorInvalid},
		{"schema rejection is invalid", ErrSchemaRejected, ErrorInvalid},
		{"missing config is invalid", ErrMissingConfig, ErrorInvalid},
		{"storage unavailable is transient", ErrStorageUnavailable, ErrorTransient},
		{"context deadline is transient", context.DeadlineExceeded, ErrorTransient},
		{"unknown error defaults to transient", New("boom"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestClassifySurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("save: %w", ErrVersionMismatch)
	assert.Equal(t, ErrorFatal, Classify(wrapped))
	assert.True(t, Is(wrapped, ErrVersionMismatch))

	doubleWrapped := Wrap(wrapped, "VersionedManager", "Build", "version check")
	assert.True(t, Is(doubleWrapped, ErrVersionMismatch))
}

func TestWrapHelpers(t *testing.T) {
	base := New("underlying")

	t.Run("wrap formats component context", func(t *testing.T) {
		err := Wrap(base, "Manager", "Save", "diff validation")
		assert.EqualError(t, err, "Manager.Save: diff validation failed: underlying")
		assert.True(t, Is(err, base))
	})

	t.Run("nil passthrough", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, "Manager", "Save", "anything"))
		assert.NoError(t, WrapInvalid(nil, "Manager", "Save", "anything"))
		assert.NoError(t, WrapFatal(nil, "Manager", "Save", "anything"))
		assert.NoError(t, WrapTransient(nil, "Manager", "Save", "anything"))
	})

	t.Run("classified wrap overrides heuristics", func(t *testing.T) {
		err := WrapFatal(base, "Store", "Insert", "write")
		assert.Equal(t, ErrorFatal, Classify(err))

		var ce *ClassifiedError
		assert.True(t, As(err, &ce))
		assert.Equal(t, "Store", ce.Component)
		assert.Equal(t, "Insert", ce.Operation)
	})
}

func TestTransientPatternMatching(t *testing.T) {
	assert.True(t, IsTransient(New("dial tcp: connection refused")))
	assert.True(t, IsTransient(New("database is busy")))
	assert.False(t, IsTransient(ErrVersionMismatch))
	assert.False(t, IsTransient(nil))
}
