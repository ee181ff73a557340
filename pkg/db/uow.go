package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrUnitOfWorkDone = errors.New("unit_of_work_done")

// UnitOfWork is one database transaction with an explicit boundary. The
// caller that calls Begin owns Commit/Rollback; everything it calls only
// receives DB().
type UnitOfWork struct {
	tx   *gorm.DB
	done bool
}

func Begin(ctx context.Context, conn *gorm.DB) (*UnitOfWork, error) {
	if conn == nil {
		return nil, gorm.ErrInvalidDB
	}
	tx := conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &UnitOfWork{tx: tx}, nil
}

func (u *UnitOfWork) DB() *gorm.DB {
	return u.tx
}

func (u *UnitOfWork) Commit() error {
	if u.done {
		return ErrUnitOfWorkDone
	}
	u.done = true
	return u.tx.Commit().Error
}

// Rollback is a no-op once the unit of work is finished, so it can be deferred.
func (u *UnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback().Error
}
