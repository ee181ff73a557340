package db

import (
	"strings"

	"gorm.io/gorm"
)

// StripRowLocks removes FOR UPDATE clauses before queries reach sqlite,
// which has no row locks and rejects the syntax. Writers are serialised by
// the database lock instead.
func StripRowLocks(conn *gorm.DB) error {
	if err := conn.Callback().Query().Before("gorm:query").Register("sqlite:strip_row_locks", stripRowLocks); err != nil {
		return err
	}
	return conn.Callback().Row().Before("gorm:row").Register("sqlite:strip_row_locks_row", stripRowLocks)
}

func stripRowLocks(d *gorm.DB) {
	sql := d.Statement.SQL.String()
	if !strings.Contains(sql, "FOR UPDATE") {
		return
	}
	sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
	sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
	d.Statement.SQL.Reset()
	d.Statement.SQL.WriteString(sql)
}
