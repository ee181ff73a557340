package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, email_address, disabled_at, created_at
		 FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindConsultantProfile(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.ConsultantProfile, error) {
	var profile domain.ConsultantProfile
	err := db.WithContext(ctx).Raw(
		`SELECT account_id, fee_per_hour_in_yen, updated_at
		 FROM consultant_profiles WHERE account_id = ?`,
		accountID,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.AccountID == 0 {
		return nil, nil
	}
	return &profile, nil
}
