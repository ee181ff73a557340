package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindConsultantProfile(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*ConsultantProfile, error)
}
