package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository takes the *gorm.DB to run on so callers choose between the pool
// and an open unit of work.
type Repository interface {
	InsertRequest(ctx context.Context, db *gorm.DB, req *ConsultationRequest) error
	FindRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ConsultationRequest, error)
	LockRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ConsultationRequest, error)
	DeleteRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// LockParticipants row-locks the given accounts in id order. Two
	// acceptances sharing a person, in either role, serialise on it.
	LockParticipants(ctx context.Context, db *gorm.DB, accountIDs ...snowflake.ID) error

	// HasConsultationAt reports whether the account takes part in a
	// consultation at meetingAt, as consultant or as user.
	HasConsultationAt(ctx context.Context, db *gorm.DB, accountID snowflake.ID, meetingAt time.Time) (bool, error)
	FindMaintenanceCovering(ctx context.Context, db *gorm.DB, at time.Time) (*MaintenanceWindow, error)

	InsertConsultation(ctx context.Context, db *gorm.DB, consultation *Consultation) error
	InsertUserRating(ctx context.Context, db *gorm.DB, rating *Rating) error
	InsertConsultantRating(ctx context.Context, db *gorm.DB, rating *Rating) error
	InsertSettlement(ctx context.Context, db *gorm.DB, settlement *Settlement) error
}
