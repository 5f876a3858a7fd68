package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	called := false
	Register("test-backend", func(config any) (Backend, error) {
		called = true
		return nil, nil
	})

	_, err := Create("test-backend", nil)
	require.NoError(t, err)
	assert.True(t, called)

	_, err = Create("nope", nil)
	assert.ErrorIs(t, err, ErrBackendNotFound)
}
