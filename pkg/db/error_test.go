package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("constraint failed: UNIQUE constraint failed: consultations.consultant_id, consultations.meeting_at (2067)")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection reset")))
}

func TestIsConstraintErr(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_consultations_user_meeting"}
	assert.True(t, IsConstraintErr(pgErr, "uq_consultations_user_meeting"))
	assert.False(t, IsConstraintErr(pgErr, "uq_consultations_consultant_meeting", "consultant_id", "meeting_at"))

	sqliteErr := errors.New("UNIQUE constraint failed: consultations.consultant_id, consultations.meeting_at")
	assert.True(t, IsConstraintErr(sqliteErr, "uq_consultations_consultant_meeting", "consultant_id", "meeting_at"))
	assert.False(t, IsConstraintErr(sqliteErr, "uq_consultations_user_meeting", "user_account_id", "meeting_at"))
	assert.False(t, IsConstraintErr(errors.New("boom"), "uq_consultations_user_meeting"))
}

func TestLockErrors(t *testing.T) {
	assert.True(t, IsLockNotAvailable(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSerializationFailure(errors.New("40001")))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)

	d, err := Dialect(Config{Type: "sqlite", Name: "file::memory:"})
	assert.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}
