package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetherhq/tether/models"
)

const endpointSchema = `{
	"type": "object",
	"properties": {
		"host": {"type": "string"},
		"port": {"type": "integer", "minimum": 1, "maximum": 65535}
	},
	"required": ["host", "port"]
}`

func TestNewPayloadValidator(t *testing.T) {
	validate, err := NewPayloadValidator(endpointSchema)
	require.NoError(t, err)

	t.Run("accepts conforming payload", func(t *testing.T) {
		err := validate(models.ConnInfo{"host": "localhost", "port": float64(51820)})
		assert.NoError(t, err)
	})

	t.Run("rejects missing field", func(t *testing.T) {
		err := validate(models.ConnInfo{"host": "localhost"})
		assert.ErrorContains(t, err, "port")
	})

	t.Run("rejects out-of-range port", func(t *testing.T) {
		err := validate(models.ConnInfo{"host": "localhost", "port": float64(70000)})
		assert.Error(t, err)
	})
}

func TestNewPayloadValidator_BadSchema(t *testing.T) {
	_, err := NewPayloadValidator(`{"type": ["not", 42`)
	assert.Error(t, err)
}
