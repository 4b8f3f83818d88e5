package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	t.Run("serialization failure", func(t *testing.T) {
		err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40001"})
		assert.True(t, IsRetryable(err))
	})
	t.Run("deadlock", func(t *testing.T) {
		assert.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	})
	t.Run("sentinel conflict", func(t *testing.T) {
		assert.True(t, IsRetryable(fmt.Errorf("lock: %w", ErrTxConflict)))
	})
	t.Run("unique violation is not retryable", func(t *testing.T) {
		err := &pgconn.PgError{Code: "23505"}
		assert.False(t, IsRetryable(err))
		assert.True(t, IsUniqueViolation(err))
	})
	t.Run("plain error", func(t *testing.T) {
		assert.False(t, IsRetryable(errors.New("boom")))
		assert.False(t, IsUniqueViolation(errors.New("boom")))
	})
}

func TestMigrationsAreOrderedSQLFiles(t *testing.T) {
	names, err := Migrations()
	if !assert.NoError(t, err) {
		return
	}
	assert.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])
	assert.IsNonDecreasing(t, names)
}
