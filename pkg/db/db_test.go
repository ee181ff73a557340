package db_test

import (
	"testing"

	"github.com/smallbiznis/consultly/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenSQLiteAcceptsRowLocks(t *testing.T) {
	conn, err := db.Open(db.Config{
		Type:        "sqlite",
		Name:        "file:open_sqlite_row_locks?mode=memory&cache=shared",
		MaxOpenConn: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.Exec(`CREATE TABLE settlements (id INTEGER PRIMARY KEY, charge_id TEXT NOT NULL)`).Error)
	require.NoError(t, conn.Exec(`INSERT INTO settlements (id, charge_id) VALUES (1, 'ch_1')`).Error)

	var chargeID string
	err = conn.Raw(`SELECT charge_id FROM settlements WHERE id = ? FOR UPDATE`, 1).Scan(&chargeID).Error
	require.NoError(t, err)
	assert.Equal(t, "ch_1", chargeID)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := db.Open(db.Config{Type: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}
