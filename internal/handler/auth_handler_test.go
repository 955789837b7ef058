package handler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRowExists(t *testing.T) {
	t.Run("row found", func(t *testing.T) {
		found, err := rowExists(&gorm.DB{})
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("cleanly absent", func(t *testing.T) {
		found, err := rowExists(&gorm.DB{Error: gorm.ErrRecordNotFound})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("wrapped not-found", func(t *testing.T) {
		wrapped := errors.Join(errors.New("lookup failed"), gorm.ErrRecordNotFound)
		found, err := rowExists(&gorm.DB{Error: wrapped})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("database failure surfaces", func(t *testing.T) {
		dbErr := errors.New("connection refused")
		found, err := rowExists(&gorm.DB{Error: dbErr})
		assert.ErrorIs(t, err, dbErr)
		assert.False(t, found)
	})
}
