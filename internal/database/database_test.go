package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatementsCoverIngestionTables(t *testing.T) {
	stmts := Statements()
	require.Len(t, stmts, 6)
	for _, table := range []string{`"emailQueue"`, `"Ticket"`, `"Comment"`, `"Imap_Email"`} {
		found := false
		for _, s := range stmts {
			if strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS "+table) {
				found = true
			}
		}
		assert.True(t, found, table)
	}
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectBegin()
	for _, s := range Statements() {
		mock.ExpectExec(s).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	n, err := Migrate(context.Background(), sqlx.NewDb(mockDB, DriverName))
	require.NoError(t, err)
	assert.Equal(t, len(Statements()), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mockDB.Close()

	stmts := Statements()
	mock.ExpectBegin()
	mock.ExpectExec(stmts[0]).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(stmts[1]).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err = Migrate(context.Background(), sqlx.NewDb(mockDB, DriverName))
	require.ErrorContains(t, err, "migration statement 2 failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateNilDB(t *testing.T) {
	_, err := Migrate(context.Background(), nil)
	require.Error(t, err)
}
