package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/account/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("account.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetAvailable(ctx context.Context, id snowflake.ID) (domain.Account, error) {
	if id <= 0 {
		return domain.Account{}, domain.ErrInvalidID
	}
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Account{}, err
	}
	if account == nil {
		return domain.Account{}, domain.ErrNotFound
	}
	if !account.Available() {
		return domain.Account{}, domain.ErrUnavailable
	}
	return *account, nil
}

func (s *Service) GetConsultantProfile(ctx context.Context, accountID snowflake.ID) (domain.ConsultantProfile, error) {
	if accountID <= 0 {
		return domain.ConsultantProfile{}, domain.ErrInvalidID
	}
	profile, err := s.repo.FindConsultantProfile(ctx, s.db, accountID)
	if err != nil {
		return domain.ConsultantProfile{}, err
	}
	if profile == nil {
		return domain.ConsultantProfile{}, domain.ErrNotFound
	}
	return *profile, nil
}

// EmailAddress returns the address of an existing account, disabled or not.
func (s *Service) EmailAddress(ctx context.Context, id snowflake.ID) (string, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", domain.ErrNotFound
	}
	return account.EmailAddress, nil
}
