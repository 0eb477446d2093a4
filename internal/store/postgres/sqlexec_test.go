package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRunner_Execute(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE stats SET n = n + 1").WillReturnResult(sqlmock.NewResult(0, 3))

	runner := NewSQLRunner()
	runner.RegisterDataSource("warehouse", db)

	affected, duration, err := runner.Execute(context.Background(), "UPDATE stats SET n = n + 1", "warehouse")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	assert.GreaterOrEqual(t, duration.Nanoseconds(), int64(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRunner_UnknownDataSource(t *testing.T) {
	runner := NewSQLRunner()

	_, _, err := runner.Execute(context.Background(), "SELECT 1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown data source")
}
