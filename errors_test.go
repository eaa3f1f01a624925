package arbor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("order")
	assert.Equal(t, "arbor: order not found", err.Error())
	assert.Equal(t, "order", err.Label())
	assert.Nil(t, err.ID())

	withID := NewNotFoundErrorWithID("order", int64(42))
	assert.Equal(t, "arbor: order not found (id=42)", withID.Error())
	assert.Equal(t, int64(42), withID.ID())

	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("loading: %w", withID)))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("boom")))

	var target *NotFoundError
	require.ErrorAs(t, fmt.Errorf("loading: %w", withID), &target)
	assert.Equal(t, int64(42), target.ID())
}

func TestNotSingularError(t *testing.T) {
	t.Parallel()

	err := NewNotSingularError("order")
	assert.Equal(t, "arbor: order not singular", err.Error())
	assert.Equal(t, "order", err.Label())
	assert.Equal(t, -1, err.Count())

	counted := &NotSingularError{label: "order", count: 3}
	assert.Equal(t, "arbor: order not singular (got 3 results, expected 1)", counted.Error())
	assert.Equal(t, 3, counted.Count())

	assert.ErrorIs(t, err, ErrNotSingular)
	assert.True(t, IsNotSingular(err))
	assert.True(t, IsNotSingular(fmt.Errorf("loading: %w", counted)))
	assert.False(t, IsNotSingular(nil))
	assert.False(t, IsNotSingular(ErrNotFound))
	assert.False(t, IsNotFound(err))
}
