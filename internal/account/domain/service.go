package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetAvailable returns the account when it exists and is not disabled.
	GetAvailable(ctx context.Context, id snowflake.ID) (Account, error)
	GetConsultantProfile(ctx context.Context, accountID snowflake.ID) (ConsultantProfile, error)
	EmailAddress(ctx context.Context, id snowflake.ID) (string, error)
}

var (
	ErrInvalidID   = errors.New("invalid_id")
	ErrNotFound    = errors.New("not_found")
	ErrUnavailable = errors.New("account_unavailable")
)
