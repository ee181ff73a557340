package db_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/consultly/pkg/db"
	"github.com/smallbiznis/consultly/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfWorkCommit(t *testing.T) {
	conn := dbtest.Open(t)

	uow, err := db.Begin(context.Background(), conn)
	require.NoError(t, err)
	require.NoError(t, uow.DB().Exec(`INSERT INTO accounts (id, email_address, created_at) VALUES (1, 'a@example.com', '2024-01-01 00:00:00+00:00')`).Error)
	require.NoError(t, uow.Commit())

	assert.Equal(t, int64(1), dbtest.Count(t, conn, "accounts"))
	assert.ErrorIs(t, uow.Commit(), db.ErrUnitOfWorkDone)
	assert.NoError(t, uow.Rollback())
}

func TestUnitOfWorkRollbackDiscardsWrites(t *testing.T) {
	conn := dbtest.Open(t)

	uow, err := db.Begin(context.Background(), conn)
	require.NoError(t, err)
	require.NoError(t, uow.DB().Exec(`INSERT INTO accounts (id, email_address, created_at) VALUES (1, 'a@example.com', '2024-01-01 00:00:00+00:00')`).Error)
	require.NoError(t, uow.Rollback())
	require.NoError(t, uow.Rollback())

	assert.Equal(t, int64(0), dbtest.Count(t, conn, "accounts"))
}

func TestBeginRejectsNilConnection(t *testing.T) {
	_, err := db.Begin(context.Background(), nil)
	assert.Error(t, err)
}
